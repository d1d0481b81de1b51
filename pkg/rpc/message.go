package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

// Coordinator methods.
const (
	MethodCreateChannel = "create_channel"
	MethodSubmitState   = "submit_state"
	MethodCloseChannel  = "close_channel"
	MethodPing          = "ping"
	MethodError         = "error"
)

var (
	// ErrCoordinatorRejected is returned when the coordinator answers with an
	// error response. The coordinator's message is carried in the wrapping
	// error text.
	ErrCoordinatorRejected = errors.New("coordinator rejected request")
	// ErrMalformedMessage is returned for frames that are not a req or res
	// envelope.
	ErrMalformedMessage = errors.New("malformed coordinator message")
)

// Payload is the body of an envelope. It travels as the JSON array
// [requestId, method, params, timestamp].
type Payload struct {
	RequestID uint64
	Method    string
	Params    json.RawMessage
	Timestamp uint64
}

// NewPayload marshals params into a payload.
func NewPayload(id uint64, method string, params interface{}, ts uint64) (Payload, error) {
	if params == nil {
		params = []interface{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Payload{}, xerrors.Errorf("encoding %s params: %w", method, err)
	}
	return Payload{RequestID: id, Method: method, Params: raw, Timestamp: ts}, nil
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	return json.Marshal([]interface{}{p.RequestID, p.Method, params, p.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return xerrors.Errorf("%w: payload is not an array: %s", ErrMalformedMessage, err)
	}
	if len(parts) != 4 {
		return xerrors.Errorf("%w: payload has %d elements, expected 4", ErrMalformedMessage, len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.RequestID); err != nil {
		return xerrors.Errorf("%w: request id: %s", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(parts[1], &p.Method); err != nil {
		return xerrors.Errorf("%w: method: %s", ErrMalformedMessage, err)
	}
	p.Params = append(json.RawMessage(nil), parts[2]...)
	if err := json.Unmarshal(parts[3], &p.Timestamp); err != nil {
		return xerrors.Errorf("%w: timestamp: %s", ErrMalformedMessage, err)
	}
	return nil
}

type requestEnvelope struct {
	Req json.RawMessage `json:"req"`
	Sig []string        `json:"sig"`
}

// SignedRequest serializes p and wraps it in a request envelope signed by
// signer. The signature covers the exact payload bytes placed on the wire.
func SignedRequest(ctx context.Context, signer wallet.EnvelopeSigner, p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignEnvelope(ctx, body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestEnvelope{Req: body, Sig: []string{sig.Hex()}})
}

// Response is a decoded res envelope.
type Response struct {
	Res Payload  `json:"res"`
	Sig []string `json:"sig,omitempty"`
}

// ParseResponse decodes a res envelope.
func ParseResponse(raw []byte) (*Response, error) {
	var env struct {
		Res json.RawMessage `json:"res"`
		Sig []string        `json:"sig"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if len(env.Res) == 0 {
		return nil, xerrors.Errorf("%w: no res field", ErrMalformedMessage)
	}
	resp := &Response{Sig: env.Sig}
	if err := json.Unmarshal(env.Res, &resp.Res); err != nil {
		return nil, err
	}
	return resp, nil
}

// Err returns ErrCoordinatorRejected with the coordinator's message for error
// responses, nil otherwise.
func (r *Response) Err() error {
	if r.Res.Method != MethodError {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := r.Result(&body); err != nil || body.Error == "" {
		return xerrors.Errorf("%w: %s", ErrCoordinatorRejected, string(r.Res.Params))
	}
	return xerrors.Errorf("%w: %s", ErrCoordinatorRejected, body.Error)
}

// Result decodes the response params into v. Coordinators wrap results in a
// single element array; both the wrapped and the bare form are accepted.
func (r *Response) Result(v interface{}) error {
	params := bytes.TrimSpace(r.Res.Params)
	if len(params) > 0 && params[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(params, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return xerrors.Errorf("%w: empty result for %s", ErrMalformedMessage, r.Res.Method)
		}
		params = items[0]
	}
	return json.Unmarshal(params, v)
}

// RequestID extracts the request id embedded in a pre-built req or res
// message without otherwise interpreting it.
func RequestID(raw []byte) (uint64, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, xerrors.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	body, ok := env["req"]
	if !ok {
		body, ok = env["res"]
	}
	if !ok {
		return 0, xerrors.Errorf("%w: neither req nor res present", ErrMalformedMessage)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) == 0 {
		return 0, xerrors.Errorf("%w: payload is not a non-empty array", ErrMalformedMessage)
	}
	var id uint64
	if err := json.Unmarshal(parts[0], &id); err != nil {
		return 0, xerrors.Errorf("%w: request id: %s", ErrMalformedMessage, err)
	}
	return id, nil
}
