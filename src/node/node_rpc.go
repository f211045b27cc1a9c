package node

import (
	"fmt"

	"github.com/chainmesh/chainmesh/src/chain"
	"github.com/chainmesh/chainmesh/src/net"
	"github.com/sirupsen/logrus"
)

func (n *Node) requestSync(target string, known map[string]chain.Summary) (net.SyncResponse, error) {
	args := net.SyncRequest{
		FromID:    n.validator.ID(),
		Community: n.community,
		Known:     known,
		SyncLimit: n.conf.SyncLimit,
	}

	var out net.SyncResponse

	err := n.trans.Sync(target, &args, &out)

	return out, err
}

func (n *Node) requestEagerSync(target string, records []*chain.Record) (net.EagerSyncResponse, error) {
	args := net.EagerSyncRequest{
		FromID:    n.validator.ID(),
		Community: n.community,
		Records:   records,
	}

	var out net.EagerSyncResponse

	err := n.trans.EagerSync(target, &args, &out)

	return out, err
}

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.SyncRequest:
		n.processSyncRequest(rpc, cmd)
	case *net.EagerSyncRequest:
		n.processEagerSyncRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// refuseBanned rejects requests from members banned in the community. Their
// records are still accepted through other peers, only the direct exchange is
// refused.
func (n *Node) refuseBanned(rpc net.RPC, fromID uint32) bool {
	peer, ok := n.peerSelector.Peers().ByID[fromID]
	if !ok {
		return false
	}

	if n.registry.IsBanned(n.community, peer.PubKeyString()) {
		n.logger.WithField("from_id", fromID).Debug("Refusing RPC from banned member")
		rpc.Respond(nil, fmt.Errorf("banned from community"))
		return true
	}

	return false
}

func (n *Node) processSyncRequest(rpc net.RPC, cmd *net.SyncRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"chains":  len(cmd.Known),
	}).Debug("process SyncRequest")

	if cmd.Community != n.community {
		rpc.Respond(nil, fmt.Errorf("unknown community %s", cmd.Community))
		return
	}

	if n.refuseBanned(rpc, cmd.FromID) {
		return
	}

	resp := &net.SyncResponse{
		FromID: n.validator.ID(),
	}

	var respErr error

	limit := cmd.SyncLimit
	if limit <= 0 || limit > n.conf.SyncLimit {
		limit = n.conf.SyncLimit
	}

	//Compute Diff
	n.coreLock.Lock()
	records, truncated, err := n.core.RecordsToSend(cmd.Known, limit)
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithField("error", err).Error("Calculating Diff")
		respErr = err
	} else {
		resp.Records = records
		resp.LimitReached = truncated
	}

	//Get Self Known
	n.coreLock.Lock()
	known, err := n.core.KnownSummaries()
	n.coreLock.Unlock()

	if err != nil {
		respErr = err
	}

	resp.Known = known

	n.logger.WithFields(logrus.Fields{
		"records":       len(resp.Records),
		"limit_reached": resp.LimitReached,
		"rpc_err":       respErr,
	}).Debug("Responding to SyncRequest")

	rpc.Respond(resp, respErr)
}

func (n *Node) processEagerSyncRequest(rpc net.RPC, cmd *net.EagerSyncRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"records": len(cmd.Records),
	}).Debug("EagerSyncRequest")

	if cmd.Community != n.community {
		rpc.Respond(nil, fmt.Errorf("unknown community %s", cmd.Community))
		return
	}

	if n.refuseBanned(rpc, cmd.FromID) {
		return
	}

	success := true

	n.coreLock.Lock()
	err := n.core.Sync(cmd.FromID, cmd.Records)
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithField("error", err).Error("sync()")
		success = false
	}

	resp := &net.EagerSyncResponse{
		FromID:  n.validator.ID(),
		Success: success,
	}

	rpc.Respond(resp, err)
}
