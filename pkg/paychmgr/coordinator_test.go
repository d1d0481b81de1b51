package paychmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/rpc"
	tf "github.com/filecoin-project/venus-statechannel/testhelpers/testflags"
)

func response(t *testing.T, method string, result interface{}) *rpc.Response {
	p, err := rpc.NewPayload(9, method, []interface{}{result}, 1)
	require.NoError(t, err)
	return &rpc.Response{Res: p}
}

func createdResult(overrides map[string]interface{}) map[string]interface{} {
	res := map[string]interface{}{
		"channel_id":     testChannelID.Hex(),
		"app_session_id": "app-1",
		"participant":    testCoordinator.Hex(),
		"nonce":          11,
		"adjudicator":    testAdjudicator.Hex(),
		"challenge":      600,
		"version":        0,
	}
	for k, v := range overrides {
		if v == nil {
			delete(res, k)
			continue
		}
		res[k] = v
	}
	return res
}

func TestParseChannelCreated(t *testing.T) {
	tf.UnitTest(t)

	want := openExpectation{Poster: testPerformer, DefaultChallenge: 86400}

	created, err := parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(nil)), want)
	require.NoError(t, err)
	assert.Equal(t, testChannelID, created.ChannelID)
	assert.Equal(t, "app-1", created.SessionID)
	assert.Equal(t, testCoordinator, created.Coordinator)
	assert.Equal(t, testAdjudicator, created.Adjudicator)
	assert.Equal(t, uint64(600), created.Challenge)
	assert.Equal(t, uint64(11), created.Nonce)
	assert.Empty(t, created.Defaulted)

	created, err = parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(map[string]interface{}{
		"challenge":      0,
		"app_session_id": "",
	})), want)
	require.NoError(t, err)
	assert.Equal(t, uint64(86400), created.Challenge)
	assert.Equal(t, testChannelID.Hex(), created.SessionID)
	assert.Equal(t, []string{"challenge", "app_session_id"}, created.Defaulted)
}

func TestParseChannelCreatedRequiredFields(t *testing.T) {
	tf.UnitTest(t)

	want := openExpectation{Poster: testPerformer, DefaultChallenge: 86400}
	for _, field := range []string{"channel_id", "participant", "nonce", "adjudicator"} {
		_, err := parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(map[string]interface{}{field: nil})), want)
		assert.True(t, xerrors.Is(err, ErrIncompleteCoordinatorResponse), field)
		assert.Contains(t, err.Error(), field)
	}

	_, err := parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(map[string]interface{}{"adjudicator": "0xnope"})), want)
	assert.True(t, xerrors.Is(err, ErrIncompleteCoordinatorResponse))

	_, err = parseChannelCreated(response(t, rpc.MethodCreateChannel, "ok"), want)
	assert.True(t, xerrors.Is(err, ErrIncompleteCoordinatorResponse))
}

func TestParseChannelCreatedChecksID(t *testing.T) {
	tf.UnitTest(t)

	want := openExpectation{Poster: testPerformer, DefaultChallenge: 86400, ChainID: 1}
	id, err := chanstate.ComputeChannelID(chanstate.Channel{
		Participants: []chanstate.Address{testPerformer, testCoordinator},
		Adjudicator:  testAdjudicator,
		Challenge:    600,
		Nonce:        11,
	}, 1)
	require.NoError(t, err)

	created, err := parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(map[string]interface{}{"channel_id": id.Hex()})), want)
	require.NoError(t, err)
	assert.Equal(t, id, created.ChannelID)

	_, err = parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(nil)), want)
	assert.True(t, xerrors.Is(err, ErrChannelIDMismatch))

	// another chain gives another id
	want.ChainID = 137
	_, err = parseChannelCreated(response(t, rpc.MethodCreateChannel, createdResult(map[string]interface{}{"channel_id": id.Hex()})), want)
	assert.True(t, xerrors.Is(err, ErrChannelIDMismatch))
}

func TestParseChannelClosed(t *testing.T) {
	tf.UnitTest(t)

	tx := chanstate.BytesToHash([]byte{0x01, 0x02})
	status, ref, err := parseChannelClosed(response(t, rpc.MethodCloseChannel, map[string]interface{}{"tx_hash": tx.Hex()}))
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, status)
	assert.Equal(t, tx.Hex(), ref)

	status, ref, err = parseChannelClosed(response(t, rpc.MethodCloseChannel, map[string]interface{}{"status": "closing"}))
	require.NoError(t, err)
	assert.Equal(t, StatusClosing, status)
	assert.Empty(t, ref)

	_, _, err = parseChannelClosed(response(t, rpc.MethodCloseChannel, map[string]interface{}{}))
	assert.True(t, xerrors.Is(err, ErrIncompleteCoordinatorResponse))

	_, _, err = parseChannelClosed(response(t, rpc.MethodCloseChannel, map[string]interface{}{"tx_hash": "0x12"}))
	assert.True(t, xerrors.Is(err, ErrIncompleteCoordinatorResponse))
}
