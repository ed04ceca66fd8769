package rule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/podnet/rulevm/internal/store"
)

// Registry is the scheduler's LIST_OF_RULES: the set of live, compiled
// rules keyed by stable rule_id. The rule set changes only from the
// rule-store change dispatcher (ADDED/MODIFIED/REMOVED) or at startup
// load; MarkExecuted also updates a live rule's execution info from the
// action dispatcher. The mutex guards those writes against evaluator
// goroutines that concurrently read the registry to resolve dependent
// rules, mirroring the mutex-guarded map
// pattern in internal/engine.CooldownTracker.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	log   logr.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(log logr.Logger) *Registry {
	return &Registry{rules: make(map[string]*Rule), log: log}
}

// AddRule compiles and installs a rule document. A schema/unknown-opcode
// failure is logged and the rule is omitted from the registry — other
// rules are unaffected (§3 invariant, §7 error kind).
func (reg *Registry) AddRule(doc store.RuleDocument) (*Rule, error) {
	r, err := Compile(doc)
	if err != nil {
		reg.log.Error(err, "dropping rule: compilation failed", "rule_id", doc.RuleID)
		return nil, err
	}
	reg.mu.Lock()
	reg.rules[r.RuleID] = r
	reg.mu.Unlock()
	return r, nil
}

// UpdateRule recompiles and replaces a rule document in place (MODIFIED).
func (reg *Registry) UpdateRule(doc store.RuleDocument) (*Rule, error) {
	return reg.AddRule(doc)
}

// RemoveRule deletes a rule from the registry (REMOVED).
func (reg *Registry) RemoveRule(ruleID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rules, ruleID)
}

// Get returns the live rule for ruleID, if present.
func (reg *Registry) Get(ruleID string) (*Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[ruleID]
	return r, ok
}

// List returns a snapshot of all live rules.
func (reg *Registry) List() []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, r)
	}
	return out
}

// Len returns the number of live rules, for the observability sink's
// list_of_rules count.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rules)
}

// DependentOn returns every live, enabled rule whose dependent_devices
// contains deviceID.
func (reg *Registry) DependentOn(deviceID string) []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []*Rule
	for _, r := range reg.rules {
		if r.Enabled && r.DependentDevices[deviceID] {
			out = append(out, r)
		}
	}
	return out
}

// MarkExecuted writes last_execution/execution_count back to the
// registry's in-memory copy of ruleID, mirroring the writeback the store
// itself also receives from the VM's action dispatcher (§4.4).
func (reg *Registry) MarkExecuted(ruleID string, lastExecution time.Time, executionCount int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rules[ruleID]; ok {
		r.LastExecution = lastExecution
		r.ExecutionCount = executionCount
	}
}

// ApplyChange translates a store.RuleChange into the corresponding
// registry mutation, matching rule_changed_callback's ADDED/MODIFIED/
// REMOVED dispatch in §4.3.
func (reg *Registry) ApplyChange(ctx context.Context, change store.RuleChange) (*Rule, error) {
	switch change.Kind {
	case store.ChangeAdded:
		return reg.AddRule(change.Doc)
	case store.ChangeModified:
		return reg.UpdateRule(change.Doc)
	case store.ChangeRemoved:
		reg.RemoveRule(change.Doc.RuleID)
		return nil, nil
	default:
		return nil, fmt.Errorf("rule: unknown change kind %q", change.Kind)
	}
}
