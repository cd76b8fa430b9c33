// Package alertindex implements C4: the Symbol -> Set<RuleId> secondary index
// and the RuleId -> Rule snapshot table, kept current by a single-writer
// command channel (the same single-goroutine-owns-mutation pattern used in
// internal/supervisor).
package alertindex

import (
	"context"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

type opKind int

const (
	opUpsert opKind = iota
	opRemove
	opBulkLoad
)

type command struct {
	kind  opKind
	rule  domain.Rule
	id    domain.RuleID
	rules []domain.Rule
	done  chan struct{}
}

// Index is the C4 AlertIndex. All mutations are serialized through a single
// writer goroutine; reads take a snapshot of the current generation and never
// block on writers.
type Index struct {
	logger *zap.Logger
	cmds   chan command

	state atomicState
}

// New creates an empty Index. It starts no goroutine: call Run to drive the
// writer loop until ctx is canceled.
func New(logger *zap.Logger) *Index {
	idx := &Index{
		logger: logger.Named("alertindex"),
		cmds:   make(chan command, 256),
	}
	idx.state.store(newGeneration())
	return idx
}

// Run drives the single-writer command loop until ctx is canceled. Must be
// started exactly once, typically from the process's component supervisor.
func (idx *Index) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-idx.cmds:
			idx.apply(cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (idx *Index) apply(cmd command) {
	cur := idx.state.load()
	next := cur.clone()

	switch cmd.kind {
	case opUpsert:
		next.upsert(cmd.rule)
	case opRemove:
		next.remove(cmd.id)
	case opBulkLoad:
		next = newGeneration()
		for _, r := range cmd.rules {
			next.upsert(r)
		}
	}

	idx.state.store(next)
}

func (idx *Index) send(cmd command) {
	cmd.done = make(chan struct{})
	idx.cmds <- cmd
	<-cmd.done
}

// Upsert inserts or replaces a rule, moving it between symbol buckets if its
// symbol changed, atomically from a reader's perspective.
func (idx *Index) Upsert(rule domain.Rule) {
	idx.send(command{kind: opUpsert, rule: rule})
}

// Remove deletes a rule by id, a no-op if the id is unknown.
func (idx *Index) Remove(id domain.RuleID) {
	idx.send(command{kind: opRemove, id: id})
}

// BulkLoad atomically replaces the entire index, used at startup and on a
// full resync from the external rule store.
func (idx *Index) BulkLoad(rules []domain.Rule) {
	idx.send(command{kind: opBulkLoad, rules: rules})
}

// RulesFor returns every rule currently indexed under symbol, a point-in-time
// snapshot safe to range over without locking.
func (idx *Index) RulesFor(symbol domain.Symbol) []domain.Rule {
	gen := idx.state.load()
	ids := gen.bySymbol[symbol]
	out := make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := gen.byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the current snapshot of one rule by id.
func (idx *Index) Get(id domain.RuleID) (domain.Rule, bool) {
	gen := idx.state.load()
	r, ok := gen.byID[id]
	return r, ok
}

// Len returns the total number of indexed rules.
func (idx *Index) Len() int {
	return len(idx.state.load().byID)
}
