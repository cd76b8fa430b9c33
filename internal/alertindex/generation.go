package alertindex

import (
	"sync/atomic"

	"github.com/p9labs/alertengine/internal/domain"
)

// generation is an immutable snapshot of the index content. Readers hold a
// reference to one generation for the duration of a query; writers build the
// next generation and swap the pointer atomically.
type generation struct {
	byID     map[domain.RuleID]domain.Rule
	bySymbol map[domain.Symbol][]domain.RuleID
}

func newGeneration() *generation {
	return &generation{
		byID:     make(map[domain.RuleID]domain.Rule),
		bySymbol: make(map[domain.Symbol][]domain.RuleID),
	}
}

func (g *generation) clone() *generation {
	next := newGeneration()
	for id, r := range g.byID {
		next.byID[id] = r
	}
	for sym, ids := range g.bySymbol {
		cp := make([]domain.RuleID, len(ids))
		copy(cp, ids)
		next.bySymbol[sym] = cp
	}
	return next
}

func (g *generation) upsert(rule domain.Rule) {
	if old, ok := g.byID[rule.ID]; ok && old.Symbol != rule.Symbol {
		g.detach(old.Symbol, rule.ID)
	}
	g.byID[rule.ID] = rule
	g.attach(rule.Symbol, rule.ID)
}

func (g *generation) remove(id domain.RuleID) {
	old, ok := g.byID[id]
	if !ok {
		return
	}
	delete(g.byID, id)
	g.detach(old.Symbol, id)
}

func (g *generation) attach(symbol domain.Symbol, id domain.RuleID) {
	for _, existing := range g.bySymbol[symbol] {
		if existing == id {
			return
		}
	}
	g.bySymbol[symbol] = append(g.bySymbol[symbol], id)
}

func (g *generation) detach(symbol domain.Symbol, id domain.RuleID) {
	ids := g.bySymbol[symbol]
	for i, existing := range ids {
		if existing == id {
			g.bySymbol[symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(g.bySymbol[symbol]) == 0 {
		delete(g.bySymbol, symbol)
	}
}

// atomicState wraps atomic.Pointer[generation] so RulesFor/Get never block
// behind the index's single writer goroutine.
type atomicState struct {
	ptr atomic.Pointer[generation]
}

func (s *atomicState) load() *generation { return s.ptr.Load() }
func (s *atomicState) store(g *generation) { s.ptr.Store(g) }
