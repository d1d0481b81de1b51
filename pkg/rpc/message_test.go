package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
	tf "github.com/filecoin-project/venus-statechannel/testhelpers/testflags"
)

func TestPayloadWireFormat(t *testing.T) {
	tf.UnitTest(t)

	p, err := NewPayload(42, MethodPing, nil, 1700000000000)
	require.NoError(t, err)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `[42,"ping",[],1700000000000]`, string(raw))

	p, err = NewPayload(7, MethodSubmitState, []interface{}{map[string]string{"channel_id": "0xab"}}, 1)
	require.NoError(t, err)
	raw, err = json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `[7,"submit_state",[{"channel_id":"0xab"}],1]`, string(raw))

	var back Payload
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p.RequestID, back.RequestID)
	assert.Equal(t, p.Method, back.Method)
	assert.JSONEq(t, string(p.Params), string(back.Params))
	assert.Equal(t, p.Timestamp, back.Timestamp)
}

func TestPayloadRejectsMalformed(t *testing.T) {
	tf.UnitTest(t)

	for _, in := range []string{
		`{}`,
		`[1,"ping",[]]`,
		`["one","ping",[],1]`,
		`[1,2,[],1]`,
		`[1,"ping",[],"later"]`,
	} {
		var p Payload
		err := json.Unmarshal([]byte(in), &p)
		assert.ErrorIs(t, err, ErrMalformedMessage, in)
	}
}

func TestSignedRequest(t *testing.T) {
	tf.UnitTest(t)

	k, err := wallet.NewKey()
	require.NoError(t, err)

	p, err := NewPayload(3, MethodCreateChannel, []interface{}{map[string]interface{}{"amount": "100"}}, 99)
	require.NoError(t, err)
	raw, err := SignedRequest(context.Background(), k.EnvelopeSigner(), p)
	require.NoError(t, err)

	var env struct {
		Req json.RawMessage `json:"req"`
		Sig []string        `json:"sig"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Len(t, env.Sig, 1)

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(env.Sig[0], "0x"))
	require.NoError(t, err)
	require.Len(t, sigBytes, crypto.SignatureLength)
	ok, err := wallet.VerifyEnvelope(k.Address, env.Req, sigBytes)
	require.NoError(t, err)
	assert.True(t, ok, "signature covers the exact payload bytes")

	id, err := RequestID(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestRequestID(t *testing.T) {
	tf.UnitTest(t)

	id, err := RequestID([]byte(`{"res":[18446744073709551615,"ping",[],1],"sig":[]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), id)

	for _, in := range []string{
		`not json`,
		`{"foo":[1]}`,
		`{"req":[]}`,
		`{"req":{"id":1}}`,
		`{"req":["1","ping",[],1]}`,
	} {
		_, err := RequestID([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedMessage, in)
	}
}

func TestParseResponse(t *testing.T) {
	tf.UnitTest(t)

	resp, err := ParseResponse([]byte(`{"res":[5,"create_channel",[{"channel_id":"0x01","nonce":9}],123],"sig":["0xabc"]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), resp.Res.RequestID)
	assert.Equal(t, MethodCreateChannel, resp.Res.Method)
	assert.NoError(t, resp.Err())

	var result struct {
		ChannelID string `json:"channel_id"`
		Nonce     uint64 `json:"nonce"`
	}
	require.NoError(t, resp.Result(&result))
	assert.Equal(t, "0x01", result.ChannelID)
	assert.Equal(t, uint64(9), result.Nonce)

	bare, err := ParseResponse([]byte(`{"res":[6,"close_channel",{"status":"closed"},124]}`))
	require.NoError(t, err)
	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, bare.Result(&status))
	assert.Equal(t, "closed", status.Status)

	empty, err := ParseResponse([]byte(`{"res":[7,"close_channel",[],124]}`))
	require.NoError(t, err)
	assert.ErrorIs(t, empty.Result(&status), ErrMalformedMessage)

	_, err = ParseResponse([]byte(`{"req":[1,"ping",[],1]}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestErrorResponse(t *testing.T) {
	tf.UnitTest(t)

	resp, err := ParseResponse([]byte(`{"res":[8,"error",[{"error":"insufficient funds"}],1]}`))
	require.NoError(t, err)
	err = resp.Err()
	assert.ErrorIs(t, err, ErrCoordinatorRejected)
	assert.Contains(t, err.Error(), "insufficient funds")

	resp, err = ParseResponse([]byte(`{"res":[9,"error","boom",1]}`))
	require.NoError(t, err)
	err = resp.Err()
	assert.ErrorIs(t, err, ErrCoordinatorRejected)
	assert.Contains(t, err.Error(), "boom")
}
