package paychmgr

import (
	"context"
	"encoding/hex"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
	"github.com/filecoin-project/venus-statechannel/pkg/rpc"
	"github.com/filecoin-project/venus-statechannel/pkg/wallet"
)

// Coordinator is the request side of the coordinator session.
type Coordinator interface {
	Request(ctx context.Context, method string, params interface{}) (*rpc.Response, error)
}

type allocationParam struct {
	Destination string `json:"destination"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
}

type appDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []uint64 `json:"weights"`
	Quorum       uint64   `json:"quorum"`
	Challenge    uint64   `json:"challenge"`
	Nonce        uint64   `json:"nonce"`
}

type createChannelParams struct {
	ChainID       uint64            `json:"chain_id,omitempty"`
	Token         string            `json:"token"`
	Amount        string            `json:"amount"`
	Participants  []string          `json:"participants"`
	Allocations   []allocationParam `json:"allocations"`
	AppDefinition appDefinition     `json:"app_definition"`
}

type stateParams struct {
	ChannelID   string            `json:"channel_id"`
	Intent      uint8             `json:"intent"`
	Version     string            `json:"version"`
	StateData   string            `json:"state_data"`
	Allocations []allocationParam `json:"allocations"`
	StateHash   string            `json:"state_hash"`
	Signatures  []string          `json:"signatures"`
}

type closeChannelParams struct {
	ChannelID        string      `json:"channel_id"`
	FundsDestination string      `json:"funds_destination"`
	State            stateParams `json:"state"`
}

func allocationParams(allocs []chanstate.Allocation) []allocationParam {
	out := make([]allocationParam, len(allocs))
	for i, a := range allocs {
		out[i] = allocationParam{
			Destination: a.Destination.Hex(),
			Token:       a.Token.Hex(),
			Amount:      a.Amount.String(),
		}
	}
	return out
}

func newStateParams(st *chanstate.State, sig wallet.Signature) (stateParams, error) {
	digest, err := chanstate.HashState(st)
	if err != nil {
		return stateParams{}, err
	}
	return stateParams{
		ChannelID:   st.ChannelID.Hex(),
		Intent:      uint8(st.Intent),
		Version:     st.Version.String(),
		StateData:   "0x" + hex.EncodeToString(st.Data),
		Allocations: allocationParams(st.Allocations),
		StateHash:   digest.Hex(),
		Signatures:  []string{sig.Hex()},
	}, nil
}

// channelCreatedResult is the create_channel result. Pointer fields tell
// missing apart from zero.
type channelCreatedResult struct {
	ChannelID    *string `json:"channel_id"`
	AppSessionID *string `json:"app_session_id"`
	Participant  *string `json:"participant"`
	Nonce        *uint64 `json:"nonce"`
	Adjudicator  *string `json:"adjudicator"`
	Challenge    *uint64 `json:"challenge"`
	Version      *uint64 `json:"version"`
}

// channelCreated is a validated create_channel result.
type channelCreated struct {
	ChannelID   chanstate.Hash
	SessionID   string
	Coordinator chanstate.Address
	Adjudicator chanstate.Address
	Challenge   uint64
	Nonce       uint64
	Version     uint64
	// Defaulted names the response fields that were absent and filled in.
	Defaulted []string
}

// openExpectation carries what the caller knows about the channel being
// created, used to fill defaults and cross-check the response.
type openExpectation struct {
	Poster           chanstate.Address
	DefaultChallenge uint64
	// ChainID enables the channel id cross-check when non-zero.
	ChainID uint64
}

func incomplete(field string) error {
	return xerrors.Errorf("%w: missing %s", ErrIncompleteCoordinatorResponse, field)
}

func malformed(field string, err error) error {
	return xerrors.Errorf("%w: malformed %s: %s", ErrIncompleteCoordinatorResponse, field, err)
}

// parseChannelCreated validates a create_channel response. Fields that feed
// the on-chain channel id (channel_id, participant, nonce, adjudicator) are
// required. challenge falls back to the configured default and
// app_session_id to the channel id; both are reported in Defaulted.
func parseChannelCreated(resp *rpc.Response, want openExpectation) (*channelCreated, error) {
	var res channelCreatedResult
	if err := resp.Result(&res); err != nil {
		return nil, xerrors.Errorf("%w: decoding create_channel result: %s", ErrIncompleteCoordinatorResponse, err)
	}

	if res.ChannelID == nil || *res.ChannelID == "" {
		return nil, incomplete("channel_id")
	}
	if res.Participant == nil || *res.Participant == "" {
		return nil, incomplete("participant")
	}
	if res.Nonce == nil {
		return nil, incomplete("nonce")
	}
	if res.Adjudicator == nil || *res.Adjudicator == "" {
		return nil, incomplete("adjudicator")
	}

	out := &channelCreated{Nonce: *res.Nonce}
	var err error
	if out.ChannelID, err = chanstate.ParseHash(*res.ChannelID); err != nil {
		return nil, malformed("channel_id", err)
	}
	if out.Coordinator, err = chanstate.ParseAddress(*res.Participant); err != nil {
		return nil, malformed("participant", err)
	}
	if out.Adjudicator, err = chanstate.ParseAddress(*res.Adjudicator); err != nil {
		return nil, malformed("adjudicator", err)
	}

	if res.Challenge == nil || *res.Challenge == 0 {
		out.Challenge = want.DefaultChallenge
		out.Defaulted = append(out.Defaulted, "challenge")
	} else {
		out.Challenge = *res.Challenge
	}

	if res.AppSessionID == nil || *res.AppSessionID == "" {
		out.SessionID = out.ChannelID.Hex()
		out.Defaulted = append(out.Defaulted, "app_session_id")
	} else {
		out.SessionID = *res.AppSessionID
	}

	if res.Version != nil {
		out.Version = *res.Version
	}

	if want.ChainID != 0 {
		expected, err := chanstate.ComputeChannelID(chanstate.Channel{
			Participants: []chanstate.Address{want.Poster, out.Coordinator},
			Adjudicator:  out.Adjudicator,
			Challenge:    out.Challenge,
			Nonce:        out.Nonce,
		}, want.ChainID)
		if err != nil {
			return nil, err
		}
		if expected != out.ChannelID {
			return nil, xerrors.Errorf("%w: coordinator sent %s, parameters give %s", ErrChannelIDMismatch, out.ChannelID, expected)
		}
	}

	return out, nil
}

type closeChannelResult struct {
	TxHash *string `json:"tx_hash"`
	Status string  `json:"status"`
}

// parseChannelClosed returns the settlement tx reference, or an empty
// reference and StatusClosing when the coordinator reports the close as
// still in progress.
func parseChannelClosed(resp *rpc.Response) (ChannelStatus, string, error) {
	var res closeChannelResult
	if err := resp.Result(&res); err != nil {
		return "", "", xerrors.Errorf("%w: decoding close_channel result: %s", ErrIncompleteCoordinatorResponse, err)
	}
	if res.TxHash != nil && *res.TxHash != "" {
		tx, err := chanstate.ParseHash(*res.TxHash)
		if err != nil {
			return "", "", malformed("tx_hash", err)
		}
		return StatusClosed, tx.Hex(), nil
	}
	if res.Status == "closing" {
		return StatusClosing, "", nil
	}
	return "", "", incomplete("tx_hash")
}
