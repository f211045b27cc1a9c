package registry

import (
	"sort"
	"sync"

	"github.com/chainmesh/chainmesh/src/chain"
	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/peers"
	"github.com/sirupsen/logrus"
)

// ForkNotifier is called when a fork is detected in a community, after the
// offending member has been banned. The competing records are the evidence.
type ForkNotifier func(community string, owner []byte, competing []*chain.Record)

// Community groups the personal chains of a set of members under a shared
// identifier. Bans are scoped to the community: a member caught equivocating
// here keeps its standing everywhere else.
type Community struct {
	Key string

	chains map[string]*chain.Chain //by owner hex
	banned map[string]bool         //by owner hex
	peers  *peers.PeerSet
	store  chain.RecordStore
}

// Registry tracks the communities a node participates in, each with its own
// membership, chains, ban list and record store.
type Registry struct {
	mu sync.RWMutex

	communities map[string]*Community

	newStore func(community string) (chain.RecordStore, error)
	onFork   ForkNotifier

	logger *logrus.Entry
}

// NewRegistry instantiates a Registry. The newStore factory produces one
// RecordStore per community; the notifier may be nil.
func NewRegistry(newStore func(community string) (chain.RecordStore, error),
	onFork ForkNotifier,
	logger *logrus.Entry) *Registry {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Registry{
		communities: make(map[string]*Community),
		newStore:    newStore,
		onFork:      onFork,
		logger:      logger,
	}
}

// JoinCommunity registers a community with its initial membership. Joining an
// already-joined community only updates the membership.
func (r *Registry) JoinCommunity(key string, peerSet *peers.PeerSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if comm, ok := r.communities[key]; ok {
		comm.peers = peerSet
		return nil
	}

	store, err := r.newStore(key)
	if err != nil {
		return err
	}

	r.communities[key] = &Community{
		Key:    key,
		chains: make(map[string]*chain.Chain),
		banned: make(map[string]bool),
		peers:  peerSet,
		store:  store,
	}

	r.logger.WithFields(logrus.Fields{
		"community": key,
		"peers":     peerSet.Len(),
	}).Debug("Joined community")

	return nil
}

// LeaveCommunity tears a community down and closes its record store.
func (r *Registry) LeaveCommunity(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	comm, ok := r.communities[key]
	if !ok {
		return cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}

	delete(r.communities, key)

	return comm.store.Close()
}

// Communities returns the sorted keys of the joined communities.
func (r *Registry) Communities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]string, 0, len(r.communities))
	for k := range r.communities {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Peers returns the membership of a community.
func (r *Registry) Peers(key string) (*peers.PeerSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comm, ok := r.communities[key]
	if !ok {
		return nil, cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}
	return comm.peers, nil
}

// EnsureChain returns the chain of the given owner within a community,
// creating it on first use. Created chains are wired to the community's
// record store and ban list.
func (r *Registry) EnsureChain(key string, owner []byte) (*chain.Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	comm, ok := r.communities[key]
	if !ok {
		return nil, cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}

	ownerHex := cm.EncodeToString(owner)
	if ch, ok := comm.chains[ownerHex]; ok {
		return ch, nil
	}

	ch := chain.NewChain(owner, comm.store, r.logger)
	ch.SetForkHandler(func(forkedOwner []byte, competing []*chain.Record) {
		r.banForFork(key, forkedOwner, competing)
	})
	comm.chains[ownerHex] = ch

	return ch, nil
}

// Chain returns the chain of the given owner within a community, without
// creating it.
func (r *Registry) Chain(key string, ownerHex string) (*chain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comm, ok := r.communities[key]
	if !ok {
		return nil, cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}

	ch, ok := comm.chains[ownerHex]
	if !ok {
		return nil, cm.NewStoreErr("Registry", cm.KeyNotFound, ownerHex)
	}
	return ch, nil
}

// Chains returns every chain of a community, keyed by owner hex.
func (r *Registry) Chains(key string) (map[string]*chain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comm, ok := r.communities[key]
	if !ok {
		return nil, cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}

	res := make(map[string]*chain.Chain, len(comm.chains))
	for k, v := range comm.chains {
		res[k] = v
	}
	return res, nil
}

// banForFork records the ban and forwards the evidence to the application
// notifier.
func (r *Registry) banForFork(key string, owner []byte, competing []*chain.Record) {
	ownerHex := cm.EncodeToString(owner)

	r.mu.Lock()
	comm, ok := r.communities[key]
	if ok {
		comm.banned[ownerHex] = true
	}
	notifier := r.onFork
	r.mu.Unlock()

	if !ok {
		return
	}

	r.logger.WithFields(logrus.Fields{
		"community": key,
		"owner":     cm.Hash32(owner),
	}).Warn("Member banned for equivocation")

	if notifier != nil {
		notifier(key, owner, competing)
	}
}

// Ban manually bans a member from a community.
func (r *Registry) Ban(key string, ownerHex string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	comm, ok := r.communities[key]
	if !ok {
		return cm.NewStoreErr("Registry", cm.KeyNotFound, key)
	}

	comm.banned[ownerHex] = true
	return nil
}

// IsBanned reports whether a member is banned from a community. Unknown
// communities report false.
func (r *Registry) IsBanned(key string, ownerHex string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comm, ok := r.communities[key]
	if !ok {
		return false
	}
	return comm.banned[ownerHex]
}

// Banned returns the sorted list of banned members of a community.
func (r *Registry) Banned(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comm, ok := r.communities[key]
	if !ok {
		return nil
	}

	res := make([]string, 0, len(comm.banned))
	for k := range comm.banned {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Summaries returns the summary of every chain of a community, keyed by owner
// hex. This is what gets advertised in gossip pulls.
func (r *Registry) Summaries(key string) (map[string]chain.Summary, error) {
	chains, err := r.Chains(key)
	if err != nil {
		return nil, err
	}

	res := make(map[string]chain.Summary, len(chains))
	for ownerHex, ch := range chains {
		res[ownerHex] = ch.Summary()
	}
	return res, nil
}
