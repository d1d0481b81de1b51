package paychmgr

import "errors"

var (
	// ErrChannelNotFound is returned for channel ids the store does not know.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelNotOpen is returned when an operation needs a channel in a
	// status it is not in.
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrAllocationImbalance is returned when a proposed allocation does not
	// sum to the channel deposit.
	ErrAllocationImbalance = errors.New("allocation does not conserve the channel deposit")
	// ErrInvalidAllocation is returned for negative amounts or keys that are
	// not channel participants.
	ErrInvalidAllocation = errors.New("invalid allocation")
	// ErrIncompleteCoordinatorResponse is returned when the coordinator omits
	// a field that cannot be defaulted safely.
	ErrIncompleteCoordinatorResponse = errors.New("incomplete coordinator response")
	// ErrChannelIDMismatch is returned when the coordinator's channel id does
	// not match the id recomputed from the channel parameters.
	ErrChannelIDMismatch = errors.New("coordinator channel id does not match channel parameters")
)
