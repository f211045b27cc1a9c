package net

import (
	"github.com/chainmesh/chainmesh/src/chain"
)

// SyncRequest is the pull half of a gossip round. The requester advertises a
// summary of every chain it holds in a community; the responder answers with
// the records the requester is missing, plus its own summaries so that the
// requester can push back what the responder is missing.
type SyncRequest struct {
	FromID    uint32
	Community string
	Known     map[string]chain.Summary
	SyncLimit int
}

// SyncResponse is the response to a SyncRequest.
type SyncResponse struct {
	FromID       uint32
	Records      []*chain.Record
	Known        map[string]chain.Summary
	LimitReached bool
}

// EagerSyncRequest is the push half of a gossip round.
type EagerSyncRequest struct {
	FromID    uint32
	Community string
	Records   []*chain.Record
}

// EagerSyncResponse is the response to an EagerSyncRequest.
type EagerSyncResponse struct {
	FromID  uint32
	Success bool
}
