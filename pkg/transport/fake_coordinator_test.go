package transport

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeCoordinator answers requests over a websocket. Behaviour is keyed on
// the request method:
//
//	ping      echoes a pong result
//	reject    answers with an error response
//	silent    never answers
//	late      answers after lateDelay
//	drop      closes the connection
//	twice     answers, then sends an unsolicited response
type fakeCoordinator struct {
	t         *testing.T
	srv       *httptest.Server
	dials     int64
	lateDelay time.Duration
	// handshakeDelay stalls the upgrade to exercise connect timeouts.
	handshakeDelay time.Duration

	lk       sync.Mutex
	received [][]byte
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	fc := &fakeCoordinator{t: t, lateDelay: 200 * time.Millisecond}
	fc.srv = httptest.NewServer(http.HandlerFunc(fc.handle))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCoordinator) URL() string {
	return "ws" + strings.TrimPrefix(fc.srv.URL, "http")
}

func (fc *fakeCoordinator) Dials() int64 {
	return atomic.LoadInt64(&fc.dials)
}

func (fc *fakeCoordinator) Received() [][]byte {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	return append([][]byte(nil), fc.received...)
}

func (fc *fakeCoordinator) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&fc.dials, 1)
	if fc.handshakeDelay > 0 {
		time.Sleep(fc.handshakeDelay)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close() // nolint: errcheck

	var writeLk sync.Mutex
	write := func(v interface{}) {
		writeLk.Lock()
		defer writeLk.Unlock()
		_ = conn.WriteJSON(v)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fc.lk.Lock()
		fc.received = append(fc.received, data)
		fc.lk.Unlock()

		var env struct {
			Req []json.RawMessage `json:"req"`
		}
		if err := json.Unmarshal(data, &env); err != nil || len(env.Req) != 4 {
			continue
		}
		var id uint64
		var method string
		_ = json.Unmarshal(env.Req[0], &id)
		_ = json.Unmarshal(env.Req[1], &method)

		res := func(m string, result interface{}) map[string]interface{} {
			return map[string]interface{}{"res": []interface{}{id, m, result, time.Now().UnixNano() / 1e6}, "sig": []string{}}
		}

		switch method {
		case "ping":
			write(res("pong", []interface{}{}))
		case "reject":
			write(res("error", []interface{}{map[string]string{"error": "not allowed"}}))
		case "silent":
		case "late":
			go func(msg map[string]interface{}) {
				time.Sleep(fc.lateDelay)
				write(msg)
			}(res("late", []interface{}{}))
		case "drop":
			return
		case "twice":
			write(res("twice", []interface{}{}))
			write(map[string]interface{}{"res": []interface{}{id + 1000, "twice", []interface{}{}, 0}})
		default:
			write(res(method, env.Req[2]))
		}
	}
}

func hexSig(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
