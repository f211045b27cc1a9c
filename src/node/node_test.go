package node

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"testing"
	"time"

	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/config"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
	"github.com/chainmesh/chainmesh/src/net"
	"github.com/chainmesh/chainmesh/src/peers"
	"github.com/chainmesh/chainmesh/src/registry"
)

type testNode struct {
	node *Node
	key  *ecdsa.PrivateKey
	addr string
}

// newTestNodes creates n initialised nodes wired together with in-memory
// transports. Each node has its own registry.
func newTestNodes(t *testing.T, n int) []*testNode {
	testKeys := []*ecdsa.PrivateKey{}
	testPeers := []*peers.Peer{}
	transports := []*net.InmemTransport{}
	addrs := []string{}

	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}

		addr, trans := net.NewInmemTransport("")

		testKeys = append(testKeys, key)
		transports = append(transports, trans)
		addrs = append(addrs, addr)
		testPeers = append(testPeers, peers.NewPeer(
			keys.PublicKeyHex(&key.PublicKey),
			addr,
			fmt.Sprintf("node%d", i),
		))
	}

	//fully connect the transports
	for i, t1 := range transports {
		for j, t2 := range transports {
			if i != j {
				t1.Connect(addrs[j], t2)
			}
		}
	}

	nodes := []*testNode{}
	for i := 0; i < n; i++ {
		peerSet := peers.NewPeerSet(testPeers)

		reg := registry.NewRegistry(inmemStoreFactory, nil, cm.NewTestEntry(t, cm.TestLogLevel))
		if err := reg.JoinCommunity(testCommunity, peerSet); err != nil {
			t.Fatal(err)
		}

		conf := config.NewTestConfig(t, cm.TestLogLevel)

		node := NewNode(conf,
			NewValidator(testKeys[i], fmt.Sprintf("node%d", i)),
			peerSet,
			reg,
			testCommunity,
			transports[i])

		if err := node.Init(); err != nil {
			t.Fatal(err)
		}

		nodes = append(nodes, &testNode{
			node: node,
			key:  testKeys[i],
			addr: addrs[i],
		})
	}

	return nodes
}

func shutdownNodes(nodes []*testNode) {
	for _, n := range nodes {
		n.node.Shutdown()
	}
}

func (tn *testNode) peer() *peers.Peer {
	return peers.NewPeer(tn.node.validator.PublicKeyHex(), tn.addr, tn.node.validator.Moniker)
}

func frontierOf(t *testing.T, n *Node, ownerHex string) int {
	ch, err := n.registry.Chain(testCommunity, ownerHex)
	if err != nil {
		t.Fatal(err)
	}
	return ch.Frontier()
}

func TestGossipRound(t *testing.T) {
	nodes := newTestNodes(t, 2)
	defer shutdownNodes(nodes)

	n0, n1 := nodes[0], nodes[1]

	for _, p := range [][]byte{[]byte("n0-tx1"), []byte("n0-tx2"), []byte("n0-tx3")} {
		n0.node.addPayload(p)
	}
	for _, p := range [][]byte{[]byte("n1-tx1"), []byte("n1-tx2")} {
		n1.node.addPayload(p)
	}

	//run both nodes without self-initiated gossip, and drive a single round by
	//hand
	n0.node.RunAsync(false)
	n1.node.RunAsync(false)

	if err := n0.node.gossip(n1.peer()); err != nil {
		t.Fatal(err)
	}

	hex0 := n0.node.validator.PublicKeyHex()
	hex1 := n1.node.validator.PublicKeyHex()

	//the pull leg brought n1's records to n0
	if f := frontierOf(t, n0.node, hex1); f != 2 {
		t.Fatalf("n0's copy of n1's chain should have frontier 2, not %d", f)
	}

	//the push leg brought n0's records to n1
	if f := frontierOf(t, n1.node, hex0); f != 3 {
		t.Fatalf("n1's copy of n0's chain should have frontier 3, not %d", f)
	}

	if rate := n0.node.SyncRate(); rate != 1 {
		t.Fatalf("sync rate should be 1, not %f", rate)
	}
}

func TestAutoGossip(t *testing.T) {
	nodes := newTestNodes(t, 3)
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.node.RunAsync(true)
	}

	nodes[0].node.Submit([]byte("n0-tx1"))
	nodes[0].node.Submit([]byte("n0-tx2"))
	nodes[1].node.Submit([]byte("n1-tx1"))

	//wait for every node to hold all 3 records
	timeout := time.After(3 * time.Second)
	for {
		converged := true
		for _, n := range nodes {
			stats := n.node.GetStats()
			if records, _ := strconv.Atoi(stats["num_records"]); records < 3 {
				converged = false
			}
		}
		if converged {
			break
		}

		select {
		case <-timeout:
			t.Fatalf("timeout waiting for gossip to converge")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestRefuseBannedMember(t *testing.T) {
	nodes := newTestNodes(t, 2)
	defer shutdownNodes(nodes)

	n0, n1 := nodes[0], nodes[1]

	n0.node.RunAsync(false)
	n1.node.RunAsync(false)

	//n1 has proof that n0 equivocated and banned it from the community
	if err := n1.node.registry.Ban(testCommunity, n0.node.validator.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}

	err := n0.node.gossip(n1.peer())
	if err == nil {
		t.Fatalf("gossip with a node that banned us should fail")
	}

	if rate := n0.node.SyncRate(); rate == 1 {
		t.Fatalf("sync errors should lower the sync rate, got %f", rate)
	}
}

func TestNoGossipWithBannedMember(t *testing.T) {
	nodes := newTestNodes(t, 2)
	defer shutdownNodes(nodes)

	n0, n1 := nodes[0], nodes[1]

	n0.node.addPayload([]byte("n0-tx1"))
	n1.node.addPayload([]byte("n1-tx1"))

	n0.node.RunAsync(false)
	n1.node.RunAsync(false)

	//n0 holds proof that n1 equivocated
	if err := n0.node.registry.Ban(testCommunity, n1.node.validator.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}

	err := n0.node.gossip(n1.peer())
	if err == nil {
		t.Fatalf("a gossip round with a banned member should not be initiated")
	}

	//nothing was pulled from the banned member
	if _, err := n0.node.registry.Chain(testCommunity, n1.node.validator.PublicKeyHex()); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("n0 should not have pulled the banned member's chain, got %v", err)
	}

	//and nothing was pushed to it
	if _, err := n1.node.registry.Chain(testCommunity, n0.node.validator.PublicKeyHex()); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("n0 should not have pushed records to the banned member, got %v", err)
	}

	//the selector never offers the banned member either
	if peer := n0.node.selectGossipPeer(); peer != nil {
		t.Fatalf("selector should not offer a banned member, got %s", peer.Moniker)
	}
}

func TestSuspendResume(t *testing.T) {
	nodes := newTestNodes(t, 2)
	defer shutdownNodes(nodes)

	n0, n1 := nodes[0], nodes[1]

	n0.node.RunAsync(true)
	n1.node.RunAsync(false)

	n0.node.Suspend()

	if state := n0.node.getState(); state != Suspended {
		t.Fatalf("state should be Suspended, not %v", state)
	}

	//a suspended node still answers sync requests
	if err := n1.node.gossip(n0.peer()); err != nil {
		t.Fatal(err)
	}

	n0.node.Resume()

	if state := n0.node.getState(); state != Gossiping {
		t.Fatalf("state should be Gossiping, not %v", state)
	}
}
