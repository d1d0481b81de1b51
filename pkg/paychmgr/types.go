package paychmgr

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// ChannelStatus only ever moves forward: PENDING, OPEN, CLOSING, CLOSED.
type ChannelStatus string

const (
	StatusPending ChannelStatus = "PENDING"
	StatusOpen    ChannelStatus = "OPEN"
	StatusClosing ChannelStatus = "CLOSING"
	StatusClosed  ChannelStatus = "CLOSED"
)

var statusRank = map[ChannelStatus]int{
	StatusPending: 0,
	StatusOpen:    1,
	StatusClosing: 2,
	StatusClosed:  3,
}

// canMoveTo reports whether s may transition to next.
func (s ChannelStatus) canMoveTo(next ChannelStatus) bool {
	return statusRank[next] >= statusRank[s]
}

// ChannelRecord is the locally tracked state of one payment session.
type ChannelRecord struct {
	ChannelID chanstate.Hash `json:"channelId"`
	// SessionID is the coordinator's application session id. It defaults to
	// the channel id when the coordinator does not assign one.
	SessionID string `json:"sessionId"`
	// Participants is [poster, performer] and never changes.
	Participants  [2]chanstate.Address `json:"participants"`
	DepositAmount decimal.Decimal      `json:"depositAmount"`
	Asset         string               `json:"asset"`
	Token         chanstate.Address    `json:"token"`
	Decimals      uint8                `json:"decimals"`
	Status        ChannelStatus        `json:"status"`
	// Allocation is keyed by lowercase participant address and always sums
	// to DepositAmount.
	Allocation map[string]decimal.Decimal `json:"allocation"`
	// Version is the version of the last state the coordinator accepted.
	Version uint64 `json:"version"`

	Adjudicator chanstate.Address `json:"adjudicator"`
	Challenge   uint64            `json:"challenge"`
	Nonce       uint64            `json:"nonce"`
	Coordinator chanstate.Address `json:"coordinator"`

	Simulated       bool     `json:"simulated"`
	DefaultedFields []string `json:"defaultedFields,omitempty"`
	SettlementTxRef string   `json:"settlementTxRef,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Poster returns the depositing participant.
func (r *ChannelRecord) Poster() chanstate.Address {
	return r.Participants[0]
}

// Performer returns the receiving participant.
func (r *ChannelRecord) Performer() chanstate.Address {
	return r.Participants[1]
}

// AllocationOf returns the amount attributed to addr, zero if none.
func (r *ChannelRecord) AllocationOf(addr chanstate.Address) decimal.Decimal {
	if v, ok := r.Allocation[addr.Hex()]; ok {
		return v
	}
	return decimal.Zero
}

// OpenResult is returned by Open.
type OpenResult struct {
	ChannelID chanstate.Hash
	SessionID string
	// Simulated is set when the channel exists only locally, either because
	// simulation was configured or because the live path failed.
	Simulated bool
}

// CloseResult is returned by CloseChannel.
type CloseResult struct {
	Status          ChannelStatus
	SettlementTxRef string
	Simulated       bool
}
