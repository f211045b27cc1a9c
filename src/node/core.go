package node

import (
	"sort"

	"github.com/chainmesh/chainmesh/src/chain"
	"github.com/chainmesh/chainmesh/src/registry"
	"github.com/sirupsen/logrus"
)

// Core connects the local member identity to the chains of one community. It
// produces the node's own records and folds in records received from peers.
// All methods are meant to be called under the node's coreLock.
type Core struct {
	validator *Validator
	registry  *registry.Registry
	community string
	syncLimit int

	logger *logrus.Entry
}

// NewCore instantiates a Core.
func NewCore(validator *Validator,
	reg *registry.Registry,
	community string,
	syncLimit int,
	logger *logrus.Entry) *Core {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Core{
		validator: validator,
		registry:  reg,
		community: community,
		syncLimit: syncLimit,
		logger:    logger,
	}
}

// OwnChain returns the chain of the local member, creating it on first use.
func (c *Core) OwnChain() (*chain.Chain, error) {
	return c.registry.EnsureChain(c.community, c.validator.PublicKeyBytes())
}

// AddPayload wraps an application payload in a record extending the local
// member's chain, signs it, and appends it.
func (c *Core) AddPayload(payload []byte) (*chain.Record, error) {
	ch, err := c.OwnChain()
	if err != nil {
		return nil, err
	}

	prevHash := chain.GenesisPrevHash
	frontier := ch.Frontier()
	if frontier > 0 {
		head, err := ch.Head()
		if err != nil {
			return nil, err
		}
		prevHash = head.Hex()
	}

	record := chain.NewRecord(payload, prevHash, frontier+1, c.validator.PublicKeyBytes())
	if err := record.Sign(c.validator.Key); err != nil {
		return nil, err
	}

	if err := ch.Append(record); err != nil {
		return nil, err
	}

	return record, nil
}

// KnownSummaries returns the summary of every chain the node holds in the
// community. This is what gets advertised in sync requests.
func (c *Core) KnownSummaries() (map[string]chain.Summary, error) {
	return c.registry.Summaries(c.community)
}

// Sync folds a batch of records received from a peer into the community's
// chains. Malformed records are logged and skipped; they never interrupt the
// batch, and they never get a member banned. Only a verified fork does that,
// inside the chain itself.
func (c *Core) Sync(fromID uint32, records []*chain.Record) error {
	c.logger.WithFields(logrus.Fields{
		"from_id": fromID,
		"records": len(records),
	}).Debug("Sync")

	for _, record := range records {
		ch, err := c.registry.EnsureChain(c.community, record.Body.Owner)
		if err != nil {
			return err
		}

		if err := ch.Append(record); err != nil {
			c.logger.WithFields(logrus.Fields{
				"record": record.Hex(),
				"error":  err,
			}).Warn("Discarding invalid record")
		}
	}

	return nil
}

// RecordsToSend collects the records that a peer advertising the given
// summaries is missing, across every chain of the community, in ascending
// position order per chain. The second return value reports whether the batch
// was truncated by the limit.
func (c *Core) RecordsToSend(known map[string]chain.Summary, limit int) ([]*chain.Record, bool, error) {
	chains, err := c.registry.Chains(c.community)
	if err != nil {
		return nil, false, err
	}

	owners := make([]string, 0, len(chains))
	for owner := range chains {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	res := []*chain.Record{}
	for _, owner := range owners {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(res)
			if remaining <= 0 {
				return res, true, nil
			}
		}

		ch := chains[owner]

		//a zero-value Summary stands for a peer that has never heard of this
		//chain, so every record counts as missing
		_, remoteMissing := ch.Diff(known[owner])

		records, err := ch.RecordsInRanges(remoteMissing, remaining)
		if err != nil {
			return nil, false, err
		}
		res = append(res, records...)
	}

	truncated := limit > 0 && len(res) >= limit
	return res, truncated, nil
}

// Busy reports whether any chain of the community still has holes to fill.
// The node gossips at the fast heartbeat while busy.
func (c *Core) Busy() bool {
	summaries, err := c.KnownSummaries()
	if err != nil {
		return false
	}

	for _, s := range summaries {
		if len(s.Holes) > 0 {
			return true
		}
	}
	return false
}
