package sqlstore

import (
	"context"
	"reflect"
	"time"

	"github.com/podnet/rulevm/internal/store"
)

// pollRuleChanges diffs successive LoadAllRules snapshots and emits
// ADDED/MODIFIED/REMOVED events, for backends whose rules table has no
// native change stream. Runs until ctx is canceled, then closes ch.
func pollRuleChanges(ctx context.Context, load func(context.Context) ([]store.RuleDocument, error), every time.Duration, ch chan<- store.RuleChange) {
	defer close(ch)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	prev := make(map[string]store.RuleDocument)
	if docs, err := load(ctx); err == nil {
		for _, d := range docs {
			prev[d.RuleID] = d
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		docs, err := load(ctx)
		if err != nil {
			continue
		}
		seen := make(map[string]bool, len(docs))
		for _, d := range docs {
			seen[d.RuleID] = true
			old, existed := prev[d.RuleID]
			if !existed {
				emit(ctx, ch, store.RuleChange{Kind: store.ChangeAdded, Doc: d})
			} else if !reflect.DeepEqual(old, d) {
				emit(ctx, ch, store.RuleChange{Kind: store.ChangeModified, Doc: d})
			}
		}
		for id, old := range prev {
			if !seen[id] {
				emit(ctx, ch, store.RuleChange{Kind: store.ChangeRemoved, Doc: old})
			}
		}

		next := make(map[string]store.RuleDocument, len(docs))
		for _, d := range docs {
			next[d.RuleID] = d
		}
		prev = next
	}
}

func emit(ctx context.Context, ch chan<- store.RuleChange, change store.RuleChange) {
	select {
	case ch <- change:
	case <-ctx.Done():
	}
}
