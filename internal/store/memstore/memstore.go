// Package memstore is an in-memory store.RuleStore and store.DeviceStore,
// used by tests and the reference CLI entry point. Its concurrency pattern —
// a mutex-guarded map with a fan-out channel for watchers — follows
// internal/events.Bus in the teacher repo.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/podnet/rulevm/internal/store"
)

// Store is a concurrency-safe in-memory implementation of both
// store.DeviceStore and store.RuleStore.
type Store struct {
	mu sync.Mutex

	devices       map[string]*store.DeviceDocument
	generatedData map[string][]store.GeneratedDataRecord
	rules         map[string]store.RuleDocument

	watchers []chan store.RuleChange
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		devices:       make(map[string]*store.DeviceDocument),
		generatedData: make(map[string][]store.GeneratedDataRecord),
		rules:         make(map[string]store.RuleDocument),
	}
}

// PutDevice installs or replaces a device document.
func (s *Store) PutDevice(doc store.DeviceDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := doc
	s.devices[doc.DeviceID] = &d
}

// PushGeneratedData prepends a record to a device's history (most recent
// first, matching GetGeneratedData's contract).
func (s *Store) PushGeneratedData(deviceID string, rec store.GeneratedDataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.generatedData[deviceID]
	merged := append([]store.GeneratedDataRecord{rec}, existing...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreationTimestamp.After(merged[j].CreationTimestamp)
	})
	s.generatedData[deviceID] = merged
}

// GetDevice implements store.DeviceStore.
func (s *Store) GetDevice(_ context.Context, deviceID string) (*store.DeviceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("memstore: device %q not found", deviceID)
	}
	cp := *d
	return &cp, nil
}

// GetGeneratedData implements store.DeviceStore.
func (s *Store) GetGeneratedData(_ context.Context, deviceID string, limit int) ([]store.GeneratedDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.generatedData[deviceID]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	out := make([]store.GeneratedDataRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// WriteRelayState implements store.DeviceStore, applying the
// CHANGE_RELAY_STATE action's writeback on the device document: the
// scalar RelayState for scalar devices, otherwise RelayStatus[relayIndex]
// (the array grows as needed). No insertedBy marker is recorded.
func (s *Store) WriteRelayState(_ context.Context, deviceID string, relayIndex, value int, scalar bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return fmt.Errorf("memstore: device %q not found", deviceID)
	}
	if scalar {
		v := value
		d.RelayState = &v
		return nil
	}
	for len(d.RelayStatus) <= relayIndex {
		d.RelayStatus = append(d.RelayStatus, 0)
	}
	d.RelayStatus[relayIndex] = value
	return nil
}

// PutRule installs or replaces a rule document and fans out a change event.
func (s *Store) PutRule(kind store.ChangeKind, doc store.RuleDocument) {
	s.mu.Lock()
	if kind == store.ChangeRemoved {
		delete(s.rules, doc.RuleID)
	} else {
		s.rules[doc.RuleID] = doc
	}
	watchers := append([]chan store.RuleChange(nil), s.watchers...)
	s.mu.Unlock()

	change := store.RuleChange{Kind: kind, Doc: doc}
	for _, ch := range watchers {
		select {
		case ch <- change:
		default:
			// Drop for a slow watcher — better than blocking every caller
			// of PutRule on one stalled consumer.
		}
	}
}

// LoadAllRules implements store.RuleStore.
func (s *Store) LoadAllRules(_ context.Context) ([]store.RuleDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RuleDocument, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// GetRuleDocument implements store.RuleStore.
func (s *Store) GetRuleDocument(_ context.Context, ruleID string) (*store.RuleDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("memstore: rule %q not found", ruleID)
	}
	cp := r
	return &cp, nil
}

// UpdateExecutionInfo implements store.RuleStore.
func (s *Store) UpdateExecutionInfo(_ context.Context, ruleID string, lastExecution time.Time, executionCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("memstore: rule %q not found", ruleID)
	}
	r.LastExecuted = &lastExecution
	r.ExecutionCount = executionCount
	s.rules[ruleID] = r
	return nil
}

// DecrementOccurrence implements store.RuleStore.
func (s *Store) DecrementOccurrence(_ context.Context, ruleID string, conditionIndex, newValue int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("memstore: rule %q not found", ruleID)
	}
	if conditionIndex < 0 || conditionIndex >= len(r.Conditions) {
		return fmt.Errorf("memstore: rule %q has no condition %d", ruleID, conditionIndex)
	}
	r.Conditions[conditionIndex]["occurrence"] = newValue
	s.rules[ruleID] = r
	return nil
}

// Watch implements store.RuleStore.
func (s *Store) Watch(ctx context.Context) (<-chan store.RuleChange, error) {
	ch := make(chan store.RuleChange, 16)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
