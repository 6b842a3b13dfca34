package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// Factory builds a validated, immutable Rule from a RuleDefinition.
type Factory func(def *domain.RuleDefinition) (Rule, error)

// Registry maps rule-type identifiers to factories and owns the active rule
// snapshot. Snapshots are built whole and swapped atomically: readers never
// observe a half-updated rule set, and configuration changes take effect on
// the next reload, never mid-batch.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	snapshot  *Snapshot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		snapshot:  emptySnapshot(),
	}
}

// Register declares a rule type. Idempotent, last write wins; called at
// process start for the built-in types.
func (r *Registry) Register(ruleType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[ruleType] = f
}

// Instantiate builds a rule from a definition. It fails with a
// ValidationError when the type is unknown or the parameters fail the type's
// schema.
func (r *Registry) Instantiate(def *domain.RuleDefinition) (Rule, error) {
	if def == nil {
		return nil, &domain.ValidationError{Reason: "definition is required"}
	}
	if def.ID == "" {
		return nil, &domain.ValidationError{Reason: "rule id is required"}
	}

	r.mu.RLock()
	factory, ok := r.factories[def.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, &domain.ValidationError{RuleID: def.ID, Reason: fmt.Sprintf("unknown rule type %q", def.Type)}
	}
	return factory(def)
}

// Reload instantiates the enabled definitions and swaps in a new snapshot.
// Any invalid definition rejects the whole reload and leaves the previous
// snapshot active. Disabled definitions never participate in evaluation or
// caching.
func (r *Registry) Reload(defs []*domain.RuleDefinition) error {
	active := make([]Rule, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		rule, err := r.Instantiate(def)
		if err != nil {
			return err
		}
		active = append(active, rule)
	}

	// Stable order: priority, then rule ID, for reproducible scheduling.
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i].Definition(), active[j].Definition()
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	snap := &Snapshot{
		rules:    active,
		loadedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	return nil
}

// Snapshot returns the current rule set. The returned snapshot is immutable;
// callers hold it for the duration of one evaluation cycle.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Types returns the registered rule-type identifiers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Snapshot is an immutable, ordered view of the active rules for one reload
// cycle.
type Snapshot struct {
	rules    []Rule
	loadedAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{loadedAt: time.Now().UTC()}
}

// ActiveRules returns the rules applicable to the given transaction type, in
// the snapshot's stable order.
func (s *Snapshot) ActiveRules(txType string) []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Definition().AppliesTo(txType) {
			out = append(out, rule)
		}
	}
	return out
}

// Rules returns every active rule in the snapshot's stable order.
func (s *Snapshot) Rules() []Rule {
	return s.rules
}

// Len returns the number of active rules in the snapshot.
func (s *Snapshot) Len() int { return len(s.rules) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
