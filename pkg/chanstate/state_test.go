package chanstate_test

import (
	"encoding/hex"
	"strings"
	"testing"

	gobig "math/big"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/crypto"
	tf "github.com/filecoin-project/venus-statechannel/testhelpers/testflags"
)

var (
	poster    = chanstate.MustParseAddress("0xAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaa")
	performer = chanstate.MustParseAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	token     = chanstate.MustParseAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func word(s string) string {
	return strings.Repeat("0", 64-len(s)) + s
}

func testState() *chanstate.State {
	var id chanstate.Hash
	for i := range id {
		id[i] = 0x11
	}
	return &chanstate.State{
		ChannelID: id,
		Intent:    chanstate.IntentResize,
		Version:   big.NewInt(7),
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
		Allocations: []chanstate.Allocation{
			{Destination: poster, Token: token, Amount: big.NewInt(100)},
			{Destination: performer, Token: token, Amount: big.Zero()},
		},
	}
}

func TestEncodeLayout(t *testing.T) {
	tf.UnitTest(t)

	expected := strings.Join([]string{
		strings.Repeat("11", 32),
		word("2"),
		word("7"),
		word("a0"),
		word("e0"),
		word("4"),
		"deadbeef" + strings.Repeat("0", 56),
		word("2"),
		word(strings.Repeat("aa", 20)),
		word(strings.Repeat("cc", 20)),
		word("64"),
		word(strings.Repeat("bb", 20)),
		word(strings.Repeat("cc", 20)),
		word("0"),
	}, "")

	encoded, err := chanstate.Encode(testState())
	require.NoError(t, err)
	assert.Equal(t, expected, hex.EncodeToString(encoded))

	h, err := chanstate.HashState(testState())
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256(encoded), h[:])
}

func TestEncodeEmptyDataAndAllocations(t *testing.T) {
	tf.UnitTest(t)

	st := &chanstate.State{Intent: chanstate.IntentFinalize, Version: big.NewInt(1)}
	encoded, err := chanstate.Encode(st)
	require.NoError(t, err)

	expected := strings.Join([]string{
		word("0"),
		word("3"),
		word("1"),
		word("a0"),
		word("c0"),
		word("0"),
		word("0"),
	}, "")
	assert.Equal(t, expected, hex.EncodeToString(encoded))
}

func TestEncodeDeterministic(t *testing.T) {
	tf.UnitTest(t)

	a, err := chanstate.Encode(testState())
	require.NoError(t, err)
	b, err := chanstate.Encode(testState())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeInjective(t *testing.T) {
	tf.UnitTest(t)

	base, err := chanstate.Encode(testState())
	require.NoError(t, err)

	mutations := map[string]func(st *chanstate.State){
		"channel id": func(st *chanstate.State) { st.ChannelID[0] = 0x12 },
		"intent":     func(st *chanstate.State) { st.Intent = chanstate.IntentFinalize },
		"version":    func(st *chanstate.State) { st.Version = big.NewInt(8) },
		"data":       func(st *chanstate.State) { st.Data = []byte{0xde, 0xad, 0xbe, 0xee} },
		"data length": func(st *chanstate.State) {
			st.Data = []byte{0xde, 0xad, 0xbe, 0xef, 0x00}
		},
		"amount":      func(st *chanstate.State) { st.Allocations[1].Amount = big.NewInt(1) },
		"destination": func(st *chanstate.State) { st.Allocations[0].Destination = performer },
		"token":       func(st *chanstate.State) { st.Allocations[0].Token = poster },
		"order": func(st *chanstate.State) {
			st.Allocations[0], st.Allocations[1] = st.Allocations[1], st.Allocations[0]
		},
		"dropped allocation": func(st *chanstate.State) { st.Allocations = st.Allocations[:1] },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			st := testState()
			mutate(st)
			other, err := chanstate.Encode(st)
			require.NoError(t, err)
			assert.NotEqual(t, base, other)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tf.UnitTest(t)

	t.Run("negative amount", func(t *testing.T) {
		st := testState()
		st.Allocations[0].Amount = big.NewInt(-1)
		_, err := chanstate.Encode(st)
		assert.True(t, xerrors.Is(err, chanstate.ErrEncoding))
	})

	t.Run("version wider than 256 bits", func(t *testing.T) {
		st := testState()
		st.Version = big.NewFromGo(new(gobig.Int).Lsh(gobig.NewInt(1), 256))
		_, err := chanstate.Encode(st)
		assert.True(t, xerrors.Is(err, chanstate.ErrEncoding))
	})

	t.Run("max uint256 version is accepted", func(t *testing.T) {
		st := testState()
		max := new(gobig.Int).Sub(new(gobig.Int).Lsh(gobig.NewInt(1), 256), gobig.NewInt(1))
		st.Version = big.NewFromGo(max)
		encoded, err := chanstate.Encode(st)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("ff", 32), hex.EncodeToString(encoded[64:96]))
	})

	t.Run("unset version", func(t *testing.T) {
		st := testState()
		st.Version = big.Int{}
		_, err := chanstate.Encode(st)
		assert.True(t, xerrors.Is(err, chanstate.ErrEncoding))
	})

	t.Run("nil state", func(t *testing.T) {
		_, err := chanstate.Encode(nil)
		assert.True(t, xerrors.Is(err, chanstate.ErrEncoding))
	})
}

func TestParseAddress(t *testing.T) {
	tf.UnitTest(t)

	upper, err := chanstate.ParseAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, poster, upper)
	assert.Equal(t, "0x"+strings.Repeat("aa", 20), upper.Hex())

	for _, bad := range []string{
		"",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xaaaa",
		"0x" + strings.Repeat("aa", 21),
		"0x" + strings.Repeat("zz", 20),
	} {
		_, err := chanstate.ParseAddress(bad)
		assert.True(t, xerrors.Is(err, chanstate.ErrEncoding), bad)
	}
}

func TestComputeChannelID(t *testing.T) {
	tf.UnitTest(t)

	ch := chanstate.Channel{
		Participants: []chanstate.Address{poster, performer},
		Adjudicator:  token,
		Challenge:    86400,
		Nonce:        42,
	}
	encoded, err := chanstate.EncodeChannel(ch, 1)
	require.NoError(t, err)
	require.Len(t, encoded, 8*chanstate.WordLength)
	assert.Equal(t, word("a0"), hex.EncodeToString(encoded[:32]))
	assert.Equal(t, word("2"), hex.EncodeToString(encoded[160:192]))

	id1, err := chanstate.ComputeChannelID(ch, 1)
	require.NoError(t, err)
	again, err := chanstate.ComputeChannelID(ch, 1)
	require.NoError(t, err)
	assert.Equal(t, id1, again)

	otherChain, err := chanstate.ComputeChannelID(ch, 137)
	require.NoError(t, err)
	assert.NotEqual(t, id1, otherChain)

	ch.Nonce++
	otherNonce, err := chanstate.ComputeChannelID(ch, 1)
	require.NoError(t, err)
	assert.NotEqual(t, id1, otherNonce)

	_, err = chanstate.ComputeChannelID(chanstate.Channel{}, 1)
	assert.True(t, xerrors.Is(err, chanstate.ErrEncoding))
}
