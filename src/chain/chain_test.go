package chain

import (
	"crypto/ecdsa"
	"reflect"
	"testing"

	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
)

func newTestChain(t *testing.T, key *ecdsa.PrivateKey) *Chain {
	owner := keys.FromPublicKey(&key.PublicKey)
	return NewChain(owner, NewInmemRecordStore(), cm.NewTestEntry(t, cm.TestLogLevel))
}

// chainedRecords builds a well-linked sequence of signed records, one per
// payload, starting at position 1.
func chainedRecords(t *testing.T, key *ecdsa.PrivateKey, payloads ...string) []*Record {
	records := []*Record{}
	prev := GenesisPrevHash
	for i, p := range payloads {
		record := newSignedRecord(t, key, []byte(p), prev, i+1)
		records = append(records, record)
		prev = record.Hex()
	}
	return records
}

func TestAppendInOrder(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b", "c", "d", "e")

	for _, r := range records {
		if err := ch.Append(r); err != nil {
			t.Fatalf("Append(%d): %v", r.Index(), err)
		}
	}

	if f := ch.Frontier(); f != 5 {
		t.Fatalf("frontier should be 5, not %d", f)
	}

	if m := ch.Mode(); m != Linear {
		t.Fatalf("mode should be Linear, not %v", m)
	}

	head, err := ch.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Hex() != records[4].Hex() {
		t.Fatalf("head should be the last record")
	}

	for i, r := range records {
		got, err := ch.Get(i + 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Hex() != r.Hex() {
			t.Fatalf("Get(%d) should return the accepted record", i+1)
		}
	}
}

func TestAppendOutOfOrder(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b", "c", "d")

	//1, then 3 and 4 ahead of the gap at 2
	for _, i := range []int{0, 2, 3} {
		if err := ch.Append(records[i]); err != nil {
			t.Fatalf("Append(%d): %v", records[i].Index(), err)
		}
	}

	if f := ch.Frontier(); f != 1 {
		t.Fatalf("frontier should be 1, not %d", f)
	}

	//buffered records are not accepted yet
	if _, err := ch.Get(3); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("Get(3) should return KeyNotFound, got %v", err)
	}

	s := ch.Summary()
	if s.MaxKnown != 4 {
		t.Fatalf("MaxKnown should be 4, not %d", s.MaxKnown)
	}
	if !reflect.DeepEqual(s.Holes, []SeqRange{{2, 2}}) {
		t.Fatalf("holes should be [{2 2}], not %v", s.Holes)
	}

	//filling the gap drains the buffer
	if err := ch.Append(records[1]); err != nil {
		t.Fatalf("Append(2): %v", err)
	}

	if f := ch.Frontier(); f != 4 {
		t.Fatalf("frontier should be 4 after drain, not %d", f)
	}

	if m := ch.Mode(); m != Linear {
		t.Fatalf("mode should still be Linear, not %v", m)
	}

	s = ch.Summary()
	if len(s.Holes) != 0 {
		t.Fatalf("holes should be empty, not %v", s.Holes)
	}
}

func TestAppendDuplicate(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b")

	for _, r := range records {
		if err := ch.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := ch.Append(records[1]); err != nil {
		t.Fatalf("duplicate Append should be a no-op, got %v", err)
	}

	if c := ch.Count(); c != 2 {
		t.Fatalf("count should be 2, not %d", c)
	}

	if m := ch.Mode(); m != Linear {
		t.Fatalf("a duplicate is not a fork; mode should be Linear, not %v", m)
	}
}

func TestForkDemotesChain(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	forkCalls := 0
	var forkEvidence []*Record
	ch.SetForkHandler(func(owner []byte, competing []*Record) {
		forkCalls++
		forkEvidence = competing
	})

	records := chainedRecords(t, key, "a", "b", "c")
	for _, r := range records {
		if err := ch.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	//a competing version of position 2, linked to the same predecessor
	fork := newSignedRecord(t, key, []byte("b'"), records[0].Hex(), 2)

	if err := ch.Append(fork); err != nil {
		t.Fatalf("a fork is not an error, got %v", err)
	}

	if m := ch.Mode(); m != DAG {
		t.Fatalf("mode should be DAG, not %v", m)
	}

	if f := ch.Frontier(); f != 1 {
		t.Fatalf("frontier should freeze below the fork at 1, not %d", f)
	}

	//both versions are retained
	got, err := ch.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Get(2) should return both versions, got %d", len(got))
	}

	if forkCalls != 1 {
		t.Fatalf("fork handler should fire once, fired %d times", forkCalls)
	}
	if len(forkEvidence) != 2 {
		t.Fatalf("fork evidence should hold both versions, got %d", len(forkEvidence))
	}

	//another competing version does not re-fire the handler
	fork2 := newSignedRecord(t, key, []byte("b''"), records[0].Hex(), 2)
	if err := ch.Append(fork2); err != nil {
		t.Fatal(err)
	}
	if forkCalls != 1 {
		t.Fatalf("fork handler should only ever fire once, fired %d times", forkCalls)
	}

	if positions := ch.ForkedPositions(); !reflect.DeepEqual(positions, []int{2}) {
		t.Fatalf("forked positions should be [2], not %v", positions)
	}
}

func TestLinkageMismatch(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b")

	if err := ch.Append(records[0]); err != nil {
		t.Fatal(err)
	}

	//right position, wrong predecessor
	mislinked := newSignedRecord(t, key, []byte("b"), "0XDEADBEEF", 2)

	if err := ch.Append(mislinked); err != nil {
		t.Fatalf("a linkage mismatch is not an error, got %v", err)
	}

	if m := ch.Mode(); m != DAG {
		t.Fatalf("mode should be DAG, not %v", m)
	}

	if f := ch.Frontier(); f != 1 {
		t.Fatalf("frontier should be 1, not %d", f)
	}

	//the mislinked record is retained as evidence
	got, err := ch.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Hex() != mislinked.Hex() {
		t.Fatalf("Get(2) should return the mislinked record")
	}
}

func TestFrontierFrozenInDAGMode(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b", "c")
	for _, r := range records[:2] {
		if err := ch.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	fork := newSignedRecord(t, key, []byte("b'"), records[0].Hex(), 2)
	if err := ch.Append(fork); err != nil {
		t.Fatal(err)
	}

	if f := ch.Frontier(); f != 1 {
		t.Fatalf("frontier should be 1, not %d", f)
	}

	//a well-linked continuation is stored but the frontier never moves again
	if err := ch.Append(records[2]); err != nil {
		t.Fatal(err)
	}

	if f := ch.Frontier(); f != 1 {
		t.Fatalf("frontier should stay frozen at 1, not %d", f)
	}

	if got, err := ch.Get(3); err != nil || len(got) != 1 {
		t.Fatalf("record 3 should still be retrievable, got %v, %v", got, err)
	}
}

func TestAppendValidation(t *testing.T) {
	key := newTestKey(t)
	otherKey := newTestKey(t)
	ch := newTestChain(t, key)

	//record belonging to another chain
	stranger := newSignedRecord(t, otherKey, []byte("a"), GenesisPrevHash, 1)
	if err := ch.Append(stranger); !IsValidation(err, OwnerMismatch) {
		t.Fatalf("expected OwnerMismatch, got %v", err)
	}

	//tampered payload
	tampered := newSignedRecord(t, key, []byte("a"), GenesisPrevHash, 1)
	tampered.Body.Payload = []byte("b")
	if err := ch.Append(tampered); !IsValidation(err, PayloadMismatch) {
		t.Fatalf("expected PayloadMismatch, got %v", err)
	}

	//bad signature
	forged := NewRecord([]byte("a"), GenesisPrevHash, 1, keys.FromPublicKey(&key.PublicKey))
	forged.Signature = "1|2"
	if err := ch.Append(forged); !IsValidation(err, InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}

	//bad index
	negative := newSignedRecord(t, key, []byte("a"), GenesisPrevHash, -1)
	if err := ch.Append(negative); !IsValidation(err, BadIndex) {
		t.Fatalf("expected BadIndex, got %v", err)
	}

	//none of these should have left a trace
	if c := ch.Count(); c != 0 {
		t.Fatalf("count should be 0, not %d", c)
	}
}

func TestChainDiff(t *testing.T) {
	key := newTestKey(t)
	records := chainedRecords(t, key, "a", "b", "c", "d", "e")

	full := newTestChain(t, key)
	for _, r := range records {
		if err := full.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	//partial holds 1, 2 and 4 (4 is buffered behind the hole at 3)
	partial := newTestChain(t, key)
	for _, i := range []int{0, 1, 3} {
		if err := partial.Append(records[i]); err != nil {
			t.Fatal(err)
		}
	}

	localMissing, remoteMissing := partial.Diff(full.Summary())

	if !reflect.DeepEqual(localMissing, []SeqRange{{3, 3}, {5, 5}}) {
		t.Fatalf("localMissing should be [{3 3} {5 5}], not %v", localMissing)
	}
	if len(remoteMissing) != 0 {
		t.Fatalf("remoteMissing should be empty, not %v", remoteMissing)
	}

	//serve the missing records and converge
	missing, err := full.RecordsInRanges(localMissing, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range missing {
		if err := partial.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	if f := partial.Frontier(); f != 5 {
		t.Fatalf("frontier should be 5 after convergence, not %d", f)
	}

	localMissing, remoteMissing = partial.Diff(full.Summary())
	if len(localMissing) != 0 || len(remoteMissing) != 0 {
		t.Fatalf("converged chains should have an empty diff, got %v %v", localMissing, remoteMissing)
	}
}

func TestDiffForkedVersions(t *testing.T) {
	key := newTestKey(t)
	records := chainedRecords(t, key, "a", "b")
	fork := newSignedRecord(t, key, []byte("b'"), records[0].Hex(), 2)

	//witness saw both versions of position 2
	witness := newTestChain(t, key)
	for _, r := range []*Record{records[0], records[1], fork} {
		if err := witness.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	//follower only saw the first version
	follower := newTestChain(t, key)
	for _, r := range records {
		if err := follower.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	//the follower discovers the competing version through the fork slots
	localMissing, _ := follower.Diff(witness.Summary())
	if !reflect.DeepEqual(localMissing, []SeqRange{{2, 2}}) {
		t.Fatalf("localMissing should be [{2 2}], not %v", localMissing)
	}

	missing, err := witness.RecordsInRanges(localMissing, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range missing {
		if err := follower.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	if m := follower.Mode(); m != DAG {
		t.Fatalf("follower should have been demoted to DAG, not %v", m)
	}

	localMissing, remoteMissing := follower.Diff(witness.Summary())
	if len(localMissing) != 0 || len(remoteMissing) != 0 {
		t.Fatalf("converged chains should have an empty diff, got %v %v", localMissing, remoteMissing)
	}
}

func TestRecordsInRangesLimit(t *testing.T) {
	key := newTestKey(t)
	ch := newTestChain(t, key)

	records := chainedRecords(t, key, "a", "b", "c", "d", "e")
	for _, r := range records {
		if err := ch.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ch.RecordsInRanges([]SeqRange{{1, 5}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("limit should cap the batch at 3, got %d", len(got))
	}
	for i, r := range got {
		if r.Index() != i+1 {
			t.Fatalf("records should come in ascending order")
		}
	}
}
