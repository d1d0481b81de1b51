package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/metrics"
	"github.com/filecoin-project/venus-statechannel/pkg/rpc"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

var log = logging.Logger("transport")

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	// number of timed out request ids remembered for late response logging
	lateResponseWindow = 256
	closeGracePeriod   = time.Second

	// ids generated by Request are strictly greater than this.
	generatedIDBase uint64 = 1 << 32
)

var (
	ErrConnectionTimeout  = errors.New("connection attempt timed out")
	ErrRequestTimeout     = errors.New("request timed out")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrDuplicateRequestID = errors.New("request id already pending")

	errClosedLocally = errors.New("session closed")
)

var (
	connectsCt   = metrics.NewInt64Counter("statechannel/connects", "Number of coordinator connections established")
	timeoutsCt   = metrics.NewInt64Counter("statechannel/request_timeouts", "Number of coordinator requests that timed out")
	teardownsCt  = metrics.NewInt64Counter("statechannel/transport_teardowns", "Number of coordinator connections torn down")
	requestTimer = metrics.NewTimerMs("statechannel/request_latency", "Coordinator round trip latency")
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Session.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// Signer signs outgoing request envelopes.
	Signer wallet.EnvelopeSigner
	Clock  clock.Clock
	Dialer *websocket.Dialer
}

type result struct {
	resp *rpc.Response
	err  error
}

// Session multiplexes request/response pairs over a single websocket
// connection to the coordinator. Responses are correlated by request id.
// A request timeout only fails that request; read or write failures tear the
// connection down and fail everything pending. There is no background
// reconnect: the next call dials again.
type Session struct {
	opts Options

	connectGroup singleflight.Group
	nextID       uint64

	lk      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[uint64]chan result

	writeLk sync.Mutex

	late *lru.Cache
}

// NewSession creates a disconnected session.
func NewSession(opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, xerrors.New("coordinator url is required")
	}
	if opts.Signer == nil {
		return nil, wallet.ErrSignerUnavailable
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	late, err := lru.New(lateResponseWindow)
	if err != nil {
		return nil, err
	}
	return &Session{
		opts:    opts,
		nextID:  generatedIDBase,
		pending: make(map[uint64]chan result),
		late:    late,
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.state
}

// Pending returns the number of requests awaiting a response.
func (s *Session) Pending() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.pending)
}

// Connect establishes the connection if needed. Concurrent callers share one
// dial attempt. The attempt is bounded by the connect timeout regardless of
// ctx; ctx only bounds how long this caller waits for it.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() == StateConnected {
		return nil
	}
	ch := s.connectGroup.DoChan("connect", func() (interface{}, error) {
		return nil, s.dial()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) dial() error {
	s.lk.Lock()
	if s.state == StateConnected {
		s.lk.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.lk.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := s.opts.Dialer.DialContext(dialCtx, s.opts.URL, nil)
	if err != nil {
		s.lk.Lock()
		s.state = StateDisconnected
		s.lk.Unlock()
		var nerr net.Error
		if dialCtx.Err() != nil || (errors.As(err, &nerr) && nerr.Timeout()) {
			return xerrors.Errorf("%w: %s after %s", ErrConnectionTimeout, s.opts.URL, s.opts.ConnectTimeout)
		}
		return xerrors.Errorf("dialing coordinator %s: %w", s.opts.URL, err)
	}

	s.lk.Lock()
	s.conn = conn
	s.state = StateConnected
	s.lk.Unlock()

	connectsCt.Inc(context.TODO(), 1)
	log.Infow("connected to coordinator", "url", s.opts.URL)

	go s.readLoop(conn)
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = s.teardown(conn, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	id, err := rpc.RequestID(data)
	if err != nil {
		log.Warnw("dropping malformed coordinator message", "err", err)
		return
	}
	resp, perr := rpc.ParseResponse(data)

	s.lk.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.lk.Unlock()

	if !ok {
		if s.late.Contains(id) {
			log.Debugw("late response for timed out request", "id", id)
		} else {
			log.Warnw("unsolicited coordinator response", "id", id)
		}
		return
	}
	ch <- result{resp: resp, err: perr}
}

// teardown closes conn if it is still the active connection and fails every
// pending request.
func (s *Session) teardown(conn *websocket.Conn, cause error) error {
	s.lk.Lock()
	if s.conn != conn {
		s.lk.Unlock()
		return nil
	}
	s.conn = nil
	s.state = StateDisconnected
	pending := s.pending
	s.pending = make(map[uint64]chan result)
	s.lk.Unlock()

	err := conn.Close()

	if cause != errClosedLocally {
		teardownsCt.Inc(context.TODO(), 1)
		log.Warnw("coordinator connection torn down", "err", cause, "failed", len(pending))
	}
	for _, ch := range pending {
		ch <- result{err: xerrors.Errorf("%w: %s", ErrConnectionClosed, cause)}
	}
	return err
}

// Request sends a signed request for method and waits for its response.
// Error responses from the coordinator are returned as
// rpc.ErrCoordinatorRejected.
func (s *Session) Request(ctx context.Context, method string, params interface{}) (*rpc.Response, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	id := atomic.AddUint64(&s.nextID, 1)
	ts := uint64(s.opts.Clock.Now().UnixNano() / int64(time.Millisecond))

	payload, err := rpc.NewPayload(id, method, params, ts)
	if err != nil {
		return nil, err
	}
	raw, err := rpc.SignedRequest(ctx, s.opts.Signer, payload)
	if err != nil {
		return nil, xerrors.Errorf("signing %s request: %w", method, err)
	}
	return s.roundTrip(ctx, id, method, raw)
}

// SendRawMessage sends a pre-built, pre-signed message as-is and waits for
// the response carrying its embedded request id. Raw and generated ids share
// the pending table; ids generated by Request start above generatedIDBase, so
// a raw message whose id is below it never collides with them.
func (s *Session) SendRawMessage(ctx context.Context, raw []byte) (*rpc.Response, error) {
	id, err := rpc.RequestID(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, id, "raw", raw)
}

func (s *Session) roundTrip(ctx context.Context, id uint64, method string, raw []byte) (*rpc.Response, error) {
	ch := make(chan result, 1)

	s.lk.Lock()
	conn := s.conn
	if conn == nil {
		s.lk.Unlock()
		return nil, xerrors.Errorf("%w: not connected", ErrConnectionClosed)
	}
	if _, dup := s.pending[id]; dup {
		s.lk.Unlock()
		return nil, xerrors.Errorf("%w: %d", ErrDuplicateRequestID, id)
	}
	s.pending[id] = ch
	s.lk.Unlock()
	defer s.forget(id, ch)

	sw := requestTimer.Start(ctx)
	defer sw.Stop(ctx)

	s.writeLk.Lock()
	// socket deadlines are wall time, never the injected clock.
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.RequestTimeout))
	err := conn.WriteMessage(websocket.TextMessage, raw)
	s.writeLk.Unlock()
	if err != nil {
		_ = s.teardown(conn, err)
		return nil, xerrors.Errorf("%w: writing %s request: %s", ErrConnectionClosed, method, err)
	}

	timer := s.opts.Clock.Timer(s.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if err := res.resp.Err(); err != nil {
			return nil, err
		}
		return res.resp, nil
	case <-timer.C:
		s.late.Add(id, struct{}{})
		timeoutsCt.Inc(ctx, 1)
		return nil, xerrors.Errorf("%w: %s (id %d) after %s", ErrRequestTimeout, method, id, s.opts.RequestTimeout)
	case <-ctx.Done():
		s.late.Add(id, struct{}{})
		return nil, ctx.Err()
	}
}

func (s *Session) forget(id uint64, ch chan result) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if cur, ok := s.pending[id]; ok && cur == ch {
		delete(s.pending, id)
	}
}

// Close sends a close frame, tears the connection down and fails pending
// requests. A later call reconnects.
func (s *Session) Close() error {
	s.lk.Lock()
	conn := s.conn
	s.lk.Unlock()
	if conn == nil {
		return nil
	}

	var result *multierror.Error
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.teardown(conn, errClosedLocally); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
