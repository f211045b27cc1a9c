package chain

import (
	"bytes"
	"sort"
	"strconv"
	"sync"

	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto"
	"github.com/sirupsen/logrus"
)

// Mode describes how a chain organises its records. A chain starts Linear and
// is irreversibly demoted to DAG upon the first equivocation, so that every
// competing version remains available as evidence.
type Mode uint32

const (
	// Linear means exactly one record per position up to the frontier.
	Linear Mode = iota
	// DAG means at least one position holds competing records.
	DAG
)

// String implements the fmt.Stringer interface.
func (m Mode) String() string {
	switch m {
	case Linear:
		return "Linear"
	case DAG:
		return "DAG"
	default:
		return "Unknown"
	}
}

// ForkHandler is called the first time a chain is demoted to DAG mode, with
// the competing records found at the forked position.
type ForkHandler func(owner []byte, competing []*Record)

// Chain holds one member's personal hash-linked sequence of records. Records
// arrive in any order; contiguous ones advance the frontier, out-of-order
// ones wait in a pending buffer, and contradictory ones demote the chain to
// DAG mode. The Chain indexes record hashes by position; record content lives
// in a RecordStore shared with the other chains of the community.
type Chain struct {
	mu sync.RWMutex

	owner    []byte
	ownerHex string

	store RecordStore

	byIndex map[int][]string //accepted record hashes per position, canonical first
	pending map[int][]string //buffered record hashes beyond the frontier
	forked  map[int]bool     //positions where competing or mislinked records were found

	frontier int //highest position of the contiguous verified prefix
	maxKnown int //highest position ever seen, accepted or pending

	mode      Mode
	forkFired bool
	onFork    ForkHandler

	logger *logrus.Entry
}

// NewChain instantiates a chain for the given owner public key, backed by the
// given RecordStore.
func NewChain(owner []byte, store RecordStore, logger *logrus.Entry) *Chain {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	ownerHex := cm.EncodeToString(owner)

	return &Chain{
		owner:    owner,
		ownerHex: ownerHex,
		store:    store,
		byIndex:  make(map[int][]string),
		pending:  make(map[int][]string),
		forked:   make(map[int]bool),
		logger:   logger.WithField("chain", cm.Hash32(owner)),
	}
}

// SetForkHandler registers the callback fired upon demotion to DAG mode. The
// handler runs at most once over the lifetime of the chain.
func (c *Chain) SetForkHandler(h ForkHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFork = h
}

// Owner returns the owner's public key bytes.
func (c *Chain) Owner() []byte {
	return c.owner
}

// OwnerHex returns the hex representation of the owner's public key.
func (c *Chain) OwnerHex() string {
	return c.ownerHex
}

// Frontier returns the highest position of the contiguous verified prefix.
func (c *Chain) Frontier() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frontier
}

// Mode returns the chain's current mode.
func (c *Chain) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Append validates a record and folds it into the chain. The return value is
// nil both for accepted records and for records buffered ahead of a gap; a
// ValidationErr is returned only when the record itself is malformed. A
// record that contradicts an already-held one is kept alongside it and
// demotes the chain to DAG mode, it is never an error.
func (c *Chain) Append(record *Record) error {
	if err := c.validate(record); err != nil {
		return err
	}

	hex := record.Hex()
	index := record.Index()

	c.mu.Lock()

	if c.holds(index, hex) {
		c.mu.Unlock()
		return nil
	}

	if err := c.store.SetRecord(record); err != nil {
		c.mu.Unlock()
		return err
	}

	if index > c.maxKnown {
		c.maxKnown = index
	}

	switch {
	case c.mode == DAG:
		c.insert(index, hex)

	case index <= c.frontier:
		//second version of an already-verified position
		c.insert(index, hex)
		c.demote(index)

	case index == c.frontier+1:
		if record.Body.PrevHash == c.headHash() {
			c.insert(index, hex)
			c.frontier = index
			c.drainPending()
		} else {
			//right position, wrong predecessor
			c.insert(index, hex)
			c.demote(index)
		}

	default:
		//gap: park the record until its predecessors arrive
		c.pending[index] = append(c.pending[index], hex)
	}

	handler, competing := c.takeForkEvent()
	c.mu.Unlock()

	if handler != nil {
		handler(c.owner, competing)
	}

	return nil
}

// validate applies the acceptance rules that do not depend on chain state.
func (c *Chain) validate(record *Record) error {
	if !bytes.Equal(record.Body.Owner, c.owner) {
		return NewValidationErr(OwnerMismatch, record.Hex())
	}

	if record.Index() < 1 {
		return NewValidationErr(BadIndex, record.Hex())
	}

	if cm.EncodeToString(crypto.SHA256(record.Body.Payload)) != record.Body.PayloadHash {
		return NewValidationErr(PayloadMismatch, record.Hex())
	}

	ok, err := record.Verify()
	if err != nil || !ok {
		return NewValidationErr(InvalidSignature, record.Hex())
	}

	return nil
}

// holds reports whether the record hash is already indexed at the position,
// accepted or pending. Callers must hold the lock.
func (c *Chain) holds(index int, hex string) bool {
	for _, h := range c.byIndex[index] {
		if h == hex {
			return true
		}
	}
	for _, h := range c.pending[index] {
		if h == hex {
			return true
		}
	}
	return false
}

// insert indexes a record hash at a position. Callers must hold the lock.
func (c *Chain) insert(index int, hex string) {
	c.byIndex[index] = append(c.byIndex[index], hex)
	if len(c.byIndex[index]) > 1 {
		c.forked[index] = true
	}
}

// headHash returns the hash of the canonical record at the frontier, or
// GenesisPrevHash when the chain is empty. Callers must hold the lock.
func (c *Chain) headHash() string {
	if c.frontier == 0 {
		return GenesisPrevHash
	}
	return c.byIndex[c.frontier][0]
}

// demote switches the chain to DAG mode, freezing the frontier below the
// offending position. Callers must hold the lock.
func (c *Chain) demote(index int) {
	c.mode = DAG
	c.forked[index] = true
	if index-1 < c.frontier {
		c.frontier = index - 1
	}

	c.logger.WithFields(logrus.Fields{
		"index":    index,
		"frontier": c.frontier,
	}).Warn("Chain demoted to DAG mode")
}

// drainPending pulls buffered records into the chain for as long as they
// extend the frontier contiguously. A buffered record that contradicts the
// canonical one at its position demotes the chain, which stops the drain.
// Callers must hold the lock.
func (c *Chain) drainPending() {
	for c.mode == Linear {
		next := c.frontier + 1
		candidates, ok := c.pending[next]
		if !ok {
			return
		}
		delete(c.pending, next)

		for _, hex := range candidates {
			if c.mode == DAG {
				c.insert(next, hex)
				continue
			}

			if len(c.byIndex[next]) > 0 {
				//position already filled by an earlier candidate
				if hex != c.byIndex[next][0] {
					c.insert(next, hex)
					c.demote(next)
				}
				continue
			}

			record, err := c.store.GetRecord(hex)
			if err != nil {
				c.logger.WithField("record", hex).Error("Pending record missing from store")
				continue
			}

			c.insert(next, hex)
			if record.Body.PrevHash == c.headHash() {
				c.frontier = next
			} else {
				c.demote(next)
			}
		}
	}
}

// takeForkEvent returns the fork handler and the competing records of the
// first demotion, exactly once. The handler is returned rather than called so
// that it runs outside the chain lock. Callers must hold the lock.
func (c *Chain) takeForkEvent() (ForkHandler, []*Record) {
	if c.mode != DAG || c.forkFired || c.onFork == nil {
		return nil, nil
	}
	c.forkFired = true

	positions := c.forkedPositions()
	if len(positions) == 0 {
		return nil, nil
	}

	competing := []*Record{}
	for _, hex := range c.byIndex[positions[0]] {
		if record, err := c.store.GetRecord(hex); err == nil {
			competing = append(competing, record)
		}
	}

	return c.onFork, competing
}

// forkedPositions returns the sorted positions where competing or mislinked
// records were found. Callers must hold the lock.
func (c *Chain) forkedPositions() []int {
	positions := make([]int, 0, len(c.forked))
	for p := range c.forked {
		positions = append(positions, p)
	}
	sort.Ints(positions)
	return positions
}

// ForkedPositions returns the sorted positions where competing or mislinked
// records were found.
func (c *Chain) ForkedPositions() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forkedPositions()
}

// Get returns the records accepted at a position. In Linear mode there is at
// most one; in DAG mode a forked position returns every competing version.
func (c *Chain) Get(index int) ([]*Record, error) {
	c.mu.RLock()
	hashes := append([]string{}, c.byIndex[index]...)
	c.mu.RUnlock()

	if len(hashes) == 0 {
		return nil, cm.NewStoreErr("Chain", cm.KeyNotFound, strconv.Itoa(index))
	}

	records := make([]*Record, 0, len(hashes))
	for _, hex := range hashes {
		record, err := c.store.GetRecord(hex)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Head returns the canonical record at the frontier.
func (c *Chain) Head() (*Record, error) {
	c.mu.RLock()
	if c.frontier == 0 {
		c.mu.RUnlock()
		return nil, cm.NewStoreErr("Chain", cm.Empty, c.ownerHex)
	}
	hex := c.byIndex[c.frontier][0]
	c.mu.RUnlock()

	return c.store.GetRecord(hex)
}

// Summary returns a compact description of what the chain holds.
func (c *Chain) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		Owner:    c.ownerHex,
		Frontier: c.frontier,
		MaxKnown: c.maxKnown,
		Holes:    []SeqRange{},
		Forks:    []ForkedSlot{},
	}

	//positions above the frontier with at least one record, accepted or
	//pending
	held := []int{}
	for p := range c.byIndex {
		if p > c.frontier {
			held = append(held, p)
		}
	}
	for p := range c.pending {
		if p > c.frontier {
			held = append(held, p)
		}
	}
	sort.Ints(held)

	//holes are the complement of held within (frontier, maxKnown]
	next := c.frontier + 1
	for _, p := range held {
		if p > next {
			s.Holes = append(s.Holes, SeqRange{First: next, Last: p - 1})
		}
		if p >= next {
			next = p + 1
		}
	}
	if next <= c.maxKnown {
		s.Holes = append(s.Holes, SeqRange{First: next, Last: c.maxKnown})
	}

	for _, p := range c.forkedPositions() {
		s.Forks = append(s.Forks, ForkedSlot{
			Index:  p,
			Hashes: append([]string{}, c.byIndex[p]...),
		})
	}

	return s
}

// Diff compares the chain against a remote summary and returns the ranges the
// local chain is missing, and the ranges the remote peer is missing. Forked
// positions where one side advertises a hash the other has not seen count as
// missing, so that competing versions propagate like any other record.
func (c *Chain) Diff(remote Summary) (localMissing, remoteMissing []SeqRange) {
	local := c.Summary()

	localMissing = MissingRanges(local, remote)
	remoteMissing = MissingRanges(remote, local)

	for _, f := range remote.Forks {
		for _, h := range f.Hashes {
			if !c.hasHashAt(f.Index, h) {
				localMissing = append(localMissing, SeqRange{First: f.Index, Last: f.Index})
				break
			}
		}
	}

	for _, f := range local.Forks {
		if !remote.Knows(f.Index) {
			continue //already covered by the range diff
		}
		for _, h := range f.Hashes {
			if !remote.hasForkHash(f.Index, h) {
				remoteMissing = append(remoteMissing, SeqRange{First: f.Index, Last: f.Index})
				break
			}
		}
	}

	return MergeRanges(localMissing), MergeRanges(remoteMissing)
}

// hasHashAt reports whether the chain holds the record hash at the position,
// accepted or pending.
func (c *Chain) hasHashAt(index int, hex string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holds(index, hex)
}

// RecordsInRanges returns every record held in the given ranges, pending ones
// included, in ascending position order. A positive limit caps the number of
// returned records.
func (c *Chain) RecordsInRanges(ranges []SeqRange, limit int) ([]*Record, error) {
	c.mu.RLock()
	hashes := []string{}
	for _, r := range ranges {
		for p := r.First; p <= r.Last; p++ {
			hashes = append(hashes, c.byIndex[p]...)
			hashes = append(hashes, c.pending[p]...)
			if limit > 0 && len(hashes) >= limit {
				break
			}
		}
		if limit > 0 && len(hashes) >= limit {
			break
		}
	}
	c.mu.RUnlock()

	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}

	records := make([]*Record, 0, len(hashes))
	for _, hex := range hashes {
		record, err := c.store.GetRecord(hex)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Count returns the total number of record versions held by the chain,
// pending ones included.
func (c *Chain) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, hs := range c.byIndex {
		count += len(hs)
	}
	for _, hs := range c.pending {
		count += len(hs)
	}
	return count
}
