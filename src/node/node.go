package node

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/chainmesh/chainmesh/src/chain"
	"github.com/chainmesh/chainmesh/src/config"
	"github.com/chainmesh/chainmesh/src/net"
	"github.com/chainmesh/chainmesh/src/peers"
	"github.com/chainmesh/chainmesh/src/registry"
	"github.com/sirupsen/logrus"
)

//Node defines a chainmesh node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	validator *Validator

	core     *Core
	coreLock sync.Mutex

	registry  *registry.Registry
	community string

	trans net.Transport
	netCh <-chan net.RPC

	submitCh chan []byte

	peerSelector PeerSelector
	selectorLock sync.Mutex

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start        time.Time
	syncRequests int
	syncErrors   int
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *config.Config,
	validator *Validator,
	peerSet *peers.PeerSet,
	reg *registry.Registry,
	community string,
	trans net.Transport,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger().WithField("this_id", validator.ID())

	node := Node{
		validator:    validator,
		conf:         conf,
		logger:       logger,
		core:         NewCore(validator, reg, community, conf.SyncLimit, logger),
		registry:     reg,
		community:    community,
		trans:        trans,
		netCh:        trans.Consumer(),
		submitCh:     make(chan []byte, 64),
		peerSelector: NewRandomPeerSelector(peerSet, validator.ID()),
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

//Init intialises the node: it registers the community and the node's own
//chain, and sets the initial state.
func (n *Node) Init() error {
	if _, err := n.core.OwnChain(); err != nil {
		return err
	}

	n.setState(Gossiping)

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

//Run invokes the main loop of the node
func (n *Node) Run(gossip bool) {
	n.start = time.Now()

	//Start the transport before anything else so that peers can reach us.
	go n.trans.Listen()

	//The ControlTimer paces the gossip routine. It beats faster when the node
	//has holes left to fill.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		//Run different routines depending on node state
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Gossiping:
			n.gossiping(gossip)
		case Suspended:
			n.suspended()
		case Shutdown:
			return
		}
	}
}

//Suspend puts the node in the Suspended state: initialised, reachable, but
//not gossiping.
func (n *Node) Suspend() {
	n.setState(Suspended)
}

//Resume puts a Suspended node back in the Gossiping state.
func (n *Node) Resume() {
	if n.getState() == Suspended {
		n.setState(Gossiping)
	}
}

//ResetTimer
func (n *Node) resetTimer() {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if !n.controlTimer.set {
		ts := n.conf.HeartbeatTimeout

		//Slow gossip if nothing interesting to say
		if !n.core.Busy() {
			ts = n.conf.SlowHeartbeatTimeout
		}

		n.controlTimer.resetCh <- ts
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() {
				n.logger.Debug("Processing RPC")
				n.processRPC(rpc)
				n.resetTimer()
			})
		case payload := <-n.submitCh:
			n.logger.Debug("Adding Payload")
			n.addPayload(payload)
			n.resetTimer()
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			os.Exit(0)
		}
	}
}

// gossiping processes incoming RPC requests and periodically initiates gossip
// rounds with randomly selected peers.
func (n *Node) gossiping(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for n.getState() == Gossiping {
		select {
		case <-n.controlTimer.tickCh:
			if gossip {
				n.logger.Debug("Time to gossip!")
				peer := n.selectGossipPeer()
				if peer != nil {
					n.goFunc(func() { n.gossip(peer) })
				}
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

// selectGossipPeer draws the next gossip partner from the non-banned members
// of the community.
func (n *Node) selectGossipPeer() *peers.Peer {
	n.selectorLock.Lock()
	defer n.selectorLock.Unlock()

	for i := 0; i < n.peerSelector.Peers().Len(); i++ {
		peer := n.peerSelector.Next()
		if peer == nil {
			return nil
		}
		if !n.registry.IsBanned(n.community, peer.PubKeyString()) {
			return peer
		}
		n.peerSelector.UpdateLast(peer.ID())
	}

	return nil
}

// suspended waits for the state to change.
func (n *Node) suspended() {
	for n.getState() == Suspended {
		select {
		case <-n.controlTimer.tickCh:
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

//gossip performs a pull-push gossip operation with the selected peer. The
//community's ban list is consulted before anything goes over the wire: rounds
//are never initiated with banned members. A transport or sync failure aborts
//the round and nothing more: unreachable peers stay members in good standing.
func (n *Node) gossip(peer *peers.Peer) error {
	if n.registry.IsBanned(n.community, peer.PubKeyString()) {
		n.logger.WithField("peer", peer.Moniker).Debug("Not gossiping with banned member")
		return fmt.Errorf("member banned from community")
	}

	//pull
	otherKnown, err := n.pull(peer)
	if err != nil {
		n.logger.WithError(err).Error("gossip pull")
		n.syncErrors++
		return err
	}

	//push
	err = n.push(peer, otherKnown)
	if err != nil {
		n.logger.WithError(err).Error("gossip push")
		n.syncErrors++
		return err
	}

	//update peer selector
	n.selectorLock.Lock()
	n.peerSelector.UpdateLast(peer.ID())
	n.selectorLock.Unlock()

	n.logStats()

	return nil
}

func (n *Node) pull(peer *peers.Peer) (otherKnown map[string]chain.Summary, err error) {
	//Compute Known
	n.coreLock.Lock()
	known, err := n.core.KnownSummaries()
	n.coreLock.Unlock()
	if err != nil {
		return nil, err
	}

	//Send SyncRequest
	start := time.Now()
	n.syncRequests++
	resp, err := n.requestSync(peer.NetAddr, known)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestSync()")

	if err != nil {
		n.logger.WithField("error", err).Error("requestSync()")
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"from_id": resp.FromID,
		"records": len(resp.Records),
	}).Debug("SyncResponse")

	//Fold the records into the community's chains
	n.coreLock.Lock()
	err = n.core.Sync(resp.FromID, resp.Records)
	n.coreLock.Unlock()

	if err != nil {
		n.logger.WithField("error", err).Error("sync()")
		return nil, err
	}

	return resp.Known, nil
}

func (n *Node) push(peer *peers.Peer, otherKnown map[string]chain.Summary) error {
	//Compute Diff
	start := time.Now()
	n.coreLock.Lock()
	records, truncated, err := n.core.RecordsToSend(otherKnown, n.conf.SyncLimit)
	n.coreLock.Unlock()
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Diff()")
	if err != nil {
		n.logger.WithField("error", err).Error("Calculating Diff")
		return err
	}

	if truncated {
		n.logger.Debug("SyncLimit")
	}

	if len(records) > 0 {
		//Create and Send EagerSyncRequest
		start = time.Now()
		resp, err := n.requestEagerSync(peer.NetAddr, records)
		elapsed = time.Since(start)
		n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("requestEagerSync()")
		if err != nil {
			n.logger.WithField("error", err).Error("requestEagerSync()")
			return err
		}
		n.logger.WithFields(logrus.Fields{
			"from_id": resp.FromID,
			"success": resp.Success,
		}).Debug("EagerSyncResponse")
	}

	return nil
}

//Submit asynchronously appends an application payload to the node's own
//chain.
func (n *Node) Submit(payload []byte) {
	select {
	case n.submitCh <- payload:
	case <-n.shutdownCh:
	}
}

func (n *Node) addPayload(payload []byte) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if _, err := n.core.AddPayload(payload); err != nil {
		n.logger.WithError(err).Error("addPayload()")
	}
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		//The timer loop must outlive the concurrent routines: resetTimer sends
		//on the timer's resetCh, which blocks forever if the loop has exited.
		n.controlTimer.Shutdown()

		//transport should only be closed once all concurrent operations
		//are finished otherwise they will panic trying to use closed objects
		n.trans.Close()
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.coreLock.Lock()
	summaries, _ := n.core.KnownSummaries()
	n.coreLock.Unlock()

	records := 0
	holes := 0
	forked := 0
	for _, s := range summaries {
		records += s.MaxKnown
		holes += len(s.Holes)
		if len(s.Forks) > 0 {
			forked++
		}
	}

	s := map[string]string{
		"community":     n.community,
		"num_chains":    strconv.Itoa(len(summaries)),
		"num_records":   strconv.Itoa(records),
		"num_holes":     strconv.Itoa(holes),
		"forked_chains": strconv.Itoa(forked),
		"banned":        strconv.Itoa(len(n.registry.Banned(n.community))),
		"num_peers":     strconv.Itoa(n.peerSelector.Peers().Len()),
		"sync_rate":     strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"id":            fmt.Sprint(n.validator.ID()),
		"state":         n.getState().String(),
		"moniker":       n.validator.Moniker,
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"community":     stats["community"],
		"num_chains":    stats["num_chains"],
		"num_records":   stats["num_records"],
		"num_holes":     stats["num_holes"],
		"forked_chains": stats["forked_chains"],
		"banned":        stats["banned"],
		"num_peers":     stats["num_peers"],
		"sync_rate":     stats["sync_rate"],
		"id":            stats["id"],
		"state":         stats["state"],
		"moniker":       stats["moniker"],
	}).Debug("Stats")
}

//SyncRate returns the Sync Rate
func (n *Node) SyncRate() float64 {
	var syncErrorRate float64

	if n.syncRequests != 0 {
		syncErrorRate = float64(n.syncErrors) / float64(n.syncRequests)
	}

	return 1 - syncErrorRate
}

//ID returns the validator ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

//GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.peerSelector.Peers().Peers
}
