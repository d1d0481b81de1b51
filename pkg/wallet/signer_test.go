package wallet

import (
	"bytes"
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
	tf "github.com/filecoin-project/venus-statechannel/testhelpers/testflags"
)

func testState() *chanstate.State {
	poster := chanstate.MustParseAddress("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf")
	performer := chanstate.MustParseAddress("0x2b5ad5c4795c026514f8317c7a215e218dccd6cf")
	token := chanstate.MustParseAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359")
	return &chanstate.State{
		ChannelID: chanstate.BytesToHash(crypto.Keccak256([]byte("channel"))),
		Intent:    chanstate.IntentResize,
		Version:   big.NewInt(7),
		Data:      []byte{},
		Allocations: []chanstate.Allocation{
			{Destination: poster, Token: token, Amount: big.NewInt(60000000)},
			{Destination: performer, Token: token, Amount: big.NewInt(40000000)},
		},
	}
}

func TestStateSignerSignsRawDigest(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	k, err := NewKey()
	require.NoError(t, err)

	st := testState()
	sig, err := k.StateSigner().SignState(ctx, st)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	digest, err := chanstate.HashState(st)
	require.NoError(t, err)
	recovered, err := crypto.RecoverAddress(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, k.Address, chanstate.Address(recovered))

	ok, err := VerifyState(k.Address, st, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// a prefixed digest must not verify
	recovered, err = crypto.RecoverAddress(crypto.TextHash(digest[:]), sig)
	if err == nil {
		assert.NotEqual(t, k.Address, chanstate.Address(recovered))
	}
}

func TestEnvelopeSignerUsesMessagePrefix(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	k, err := NewKey()
	require.NoError(t, err)

	payload := []byte(`[1,"ping",[],1700000000000]`)
	sig, err := k.EnvelopeSigner().SignEnvelope(ctx, payload)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)

	ok, err := VerifyEnvelope(k.Address, payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	recovered, err := crypto.RecoverAddress(crypto.Keccak256(payload), sig)
	if err == nil {
		assert.NotEqual(t, k.Address, chanstate.Address(recovered))
	}
}

func TestSignersAreDistinct(t *testing.T) {
	tf.UnitTest(t)

	k, err := ParseKey("0x01")
	require.NoError(t, err)

	var stateSigner interface{} = k.StateSigner()
	var envelopeSigner interface{} = k.EnvelopeSigner()

	_, stateCanEnvelope := stateSigner.(EnvelopeSigner)
	_, envelopeCanState := envelopeSigner.(StateSigner)
	assert.False(t, stateCanEnvelope)
	assert.False(t, envelopeCanState)
	assert.Equal(t, k.Address, k.StateSigner().Address())
	assert.Equal(t, k.Address, k.EnvelopeSigner().Address())
}

func TestSignerUnavailable(t *testing.T) {
	tf.UnitTest(t)

	_, err := NewStateSigner(nil)
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	_, err = NewEnvelopeSigner(nil)
	assert.ErrorIs(t, err, ErrSignerUnavailable)

	k, err := NewKey()
	require.NoError(t, err)
	s, err := NewStateSigner(k)
	require.NoError(t, err)
	assert.Equal(t, k.Address, s.Address())
}

func TestStateSignerPropagatesEncodingErrors(t *testing.T) {
	tf.UnitTest(t)

	k, err := NewKey()
	require.NoError(t, err)
	st := testState()
	st.Allocations[0].Amount = big.NewInt(-1)

	_, err = k.StateSigner().SignState(context.Background(), st)
	assert.ErrorIs(t, err, chanstate.ErrEncoding)

	_, err = NewSimulatedSigner(k.Address).SignState(context.Background(), st)
	assert.ErrorIs(t, err, chanstate.ErrEncoding)
}

func TestSimulatedSigner(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	addr := chanstate.MustParseAddress("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf")
	s := NewSimulatedSigner(addr)
	assert.Equal(t, addr, s.Address())

	st := testState()
	a, err := s.SignState(ctx, st)
	require.NoError(t, err)
	b, err := s.SignState(ctx, testState())
	require.NoError(t, err)
	assert.Len(t, a, crypto.SignatureLength)
	assert.Equal(t, a, b, "deterministic")
	assert.Equal(t, byte(27), a[64])

	st.Version = big.NewInt(8)
	c, err := s.SignState(ctx, st)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, c))

	e1, err := s.SignEnvelope(ctx, []byte("payload"))
	require.NoError(t, err)
	e2, err := s.SignEnvelope(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Len(t, e1, crypto.SignatureLength)
	assert.Equal(t, e1, e2)
	assert.Equal(t, "0x", e1.Hex()[:2])
	assert.Len(t, e1.Hex(), 2+2*crypto.SignatureLength)
}
