package registry

import (
	"crypto/ecdsa"
	"testing"

	"github.com/chainmesh/chainmesh/src/chain"
	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
	"github.com/chainmesh/chainmesh/src/peers"
)

func inmemStoreFactory(community string) (chain.RecordStore, error) {
	return chain.NewInmemRecordStore(), nil
}

func newTestRegistry(t *testing.T, onFork ForkNotifier) *Registry {
	return NewRegistry(inmemStoreFactory, onFork, cm.NewTestEntry(t, cm.TestLogLevel))
}

func testKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return key, keys.FromPublicKey(&key.PublicKey)
}

func signedRecord(t *testing.T, key *ecdsa.PrivateKey, owner []byte, payload []byte, prevHash string, index int) *chain.Record {
	record := chain.NewRecord(payload, prevHash, index, owner)
	if err := record.Sign(key); err != nil {
		t.Fatal(err)
	}
	return record
}

func TestJoinCommunity(t *testing.T) {
	reg := newTestRegistry(t, nil)

	peerSet := peers.NewPeerSet([]*peers.Peer{})

	if err := reg.JoinCommunity("alpha", peerSet); err != nil {
		t.Fatal(err)
	}
	if err := reg.JoinCommunity("beta", peerSet); err != nil {
		t.Fatal(err)
	}

	//joining again is idempotent
	if err := reg.JoinCommunity("alpha", peerSet); err != nil {
		t.Fatal(err)
	}

	communities := reg.Communities()
	if len(communities) != 2 || communities[0] != "alpha" || communities[1] != "beta" {
		t.Fatalf("communities should be [alpha beta], not %v", communities)
	}

	if err := reg.LeaveCommunity("beta"); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Peers("beta"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

func TestEnsureChain(t *testing.T) {
	reg := newTestRegistry(t, nil)

	if err := reg.JoinCommunity("alpha", peers.NewPeerSet([]*peers.Peer{})); err != nil {
		t.Fatal(err)
	}

	_, owner := testKey(t)

	ch1, err := reg.EnsureChain("alpha", owner)
	if err != nil {
		t.Fatal(err)
	}

	ch2, err := reg.EnsureChain("alpha", owner)
	if err != nil {
		t.Fatal(err)
	}

	if ch1 != ch2 {
		t.Fatalf("EnsureChain should be idempotent")
	}

	if _, err := reg.EnsureChain("unknown", owner); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

func TestForkBansMember(t *testing.T) {
	notified := 0
	var notifiedCommunity string

	reg := newTestRegistry(t, nil)
	reg.onFork = func(community string, owner []byte, competing []*chain.Record) {
		notified++
		notifiedCommunity = community
	}

	if err := reg.JoinCommunity("alpha", peers.NewPeerSet([]*peers.Peer{})); err != nil {
		t.Fatal(err)
	}
	if err := reg.JoinCommunity("beta", peers.NewPeerSet([]*peers.Peer{})); err != nil {
		t.Fatal(err)
	}

	key, owner := testKey(t)
	ownerHex := cm.EncodeToString(owner)

	ch, err := reg.EnsureChain("alpha", owner)
	if err != nil {
		t.Fatal(err)
	}

	first := signedRecord(t, key, owner, []byte("a"), chain.GenesisPrevHash, 1)
	second := signedRecord(t, key, owner, []byte("b"), first.Hex(), 2)
	competing := signedRecord(t, key, owner, []byte("b'"), first.Hex(), 2)

	for _, r := range []*chain.Record{first, second, competing} {
		if err := ch.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	if !reg.IsBanned("alpha", ownerHex) {
		t.Fatalf("equivocating member should be banned from alpha")
	}

	//bans are scoped to the community where the fork was proven
	if reg.IsBanned("beta", ownerHex) {
		t.Fatalf("member should not be banned from beta")
	}

	if notified != 1 {
		t.Fatalf("fork notifier should fire once, fired %d times", notified)
	}
	if notifiedCommunity != "alpha" {
		t.Fatalf("notified community should be alpha, not %s", notifiedCommunity)
	}

	banned := reg.Banned("alpha")
	if len(banned) != 1 || banned[0] != ownerHex {
		t.Fatalf("banned list should contain the forked member")
	}
}

func TestBannedMemberRecordsStillAccepted(t *testing.T) {
	reg := newTestRegistry(t, nil)

	if err := reg.JoinCommunity("alpha", peers.NewPeerSet([]*peers.Peer{})); err != nil {
		t.Fatal(err)
	}

	key, owner := testKey(t)

	ch, err := reg.EnsureChain("alpha", owner)
	if err != nil {
		t.Fatal(err)
	}

	first := signedRecord(t, key, owner, []byte("a"), chain.GenesisPrevHash, 1)
	competing := signedRecord(t, key, owner, []byte("a'"), chain.GenesisPrevHash, 1)

	if err := ch.Append(first); err != nil {
		t.Fatal(err)
	}
	if err := ch.Append(competing); err != nil {
		t.Fatal(err)
	}

	if !reg.IsBanned("alpha", cm.EncodeToString(owner)) {
		t.Fatalf("member should be banned")
	}

	//the evidence remains available after the ban
	got, err := ch.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("both versions should be retained, got %d", len(got))
	}
}

func TestSummaries(t *testing.T) {
	reg := newTestRegistry(t, nil)

	if err := reg.JoinCommunity("alpha", peers.NewPeerSet([]*peers.Peer{})); err != nil {
		t.Fatal(err)
	}

	key, owner := testKey(t)

	ch, err := reg.EnsureChain("alpha", owner)
	if err != nil {
		t.Fatal(err)
	}

	first := signedRecord(t, key, owner, []byte("a"), chain.GenesisPrevHash, 1)
	if err := ch.Append(first); err != nil {
		t.Fatal(err)
	}

	summaries, err := reg.Summaries("alpha")
	if err != nil {
		t.Fatal(err)
	}

	s, ok := summaries[cm.EncodeToString(owner)]
	if !ok {
		t.Fatalf("summaries should contain the owner's chain")
	}
	if s.Frontier != 1 {
		t.Fatalf("frontier should be 1, not %d", s.Frontier)
	}
}
