package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/podnet/rulevm/internal/store"
)

func TestGetDeviceNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetDevice(context.Background(), "dev-1"); err == nil {
		t.Fatal("expected an error for a device that was never put")
	}
}

func TestWriteRelayStateArrayForm(t *testing.T) {
	s := New()
	s.PutDevice(store.DeviceDocument{DeviceID: "dev-1"})

	if err := s.WriteRelayState(context.Background(), "dev-1", 2, 1, false); err != nil {
		t.Fatalf("WriteRelayState: %v", err)
	}
	doc, err := s.GetDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if len(doc.RelayStatus) != 3 || doc.RelayStatus[2] != 1 {
		t.Errorf("RelayStatus = %v, want index 2 == 1", doc.RelayStatus)
	}
}

func TestWriteRelayStateScalarForm(t *testing.T) {
	s := New()
	s.PutDevice(store.DeviceDocument{DeviceID: "SW2-0001"})

	if err := s.WriteRelayState(context.Background(), "SW2-0001", 0, 1, true); err != nil {
		t.Fatalf("WriteRelayState: %v", err)
	}
	doc, _ := s.GetDevice(context.Background(), "SW2-0001")
	if doc.RelayState == nil || *doc.RelayState != 1 {
		t.Errorf("RelayState = %v, want pointer to 1", doc.RelayState)
	}
}

func TestGetGeneratedDataMostRecentFirst(t *testing.T) {
	s := New()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	s.PushGeneratedData("dev-1", store.GeneratedDataRecord{CreationTimestamp: older})
	s.PushGeneratedData("dev-1", store.GeneratedDataRecord{CreationTimestamp: newer})

	recs, err := s.GetGeneratedData(context.Background(), "dev-1", 0)
	if err != nil {
		t.Fatalf("GetGeneratedData: %v", err)
	}
	if len(recs) != 2 || !recs[0].CreationTimestamp.Equal(newer) {
		t.Errorf("expected most-recent-first ordering, got %+v", recs)
	}
}

func TestGetGeneratedDataRespectsLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.PushGeneratedData("dev-1", store.GeneratedDataRecord{CreationTimestamp: time.Now().Add(time.Duration(i) * time.Minute)})
	}
	recs, err := s.GetGeneratedData(context.Background(), "dev-1", 2)
	if err != nil {
		t.Fatalf("GetGeneratedData: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len(recs) = %d, want 2", len(recs))
	}
}

func TestPutRuleFansOutToWatchers(t *testing.T) {
	s := New()
	ch, err := s.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	s.PutRule(store.ChangeAdded, store.RuleDocument{RuleID: "r1"})

	select {
	case change := <-ch:
		if change.Kind != store.ChangeAdded || change.Doc.RuleID != "r1" {
			t.Errorf("got %+v, want ADDED r1", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a watch event")
	}
}

func TestWatchClosesChannelOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected the watch channel to be closed, not deliver a value")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context cancel")
	}
}

func TestDecrementOccurrenceMutatesConditionEntry(t *testing.T) {
	s := New()
	doc := store.RuleDocument{
		RuleID:     "r1",
		Conditions: []store.ConditionEntry{{"operation": "AT_TIME_WITH_OCCURRENCE", "occurrence": 3}},
	}
	s.PutRule(store.ChangeAdded, doc)

	if err := s.DecrementOccurrence(context.Background(), "r1", 0, 2); err != nil {
		t.Fatalf("DecrementOccurrence: %v", err)
	}
	got, err := s.GetRuleDocument(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRuleDocument: %v", err)
	}
	if got.Conditions[0]["occurrence"] != 2 {
		t.Errorf("occurrence = %v, want 2", got.Conditions[0]["occurrence"])
	}
}

func TestUpdateExecutionInfoUnknownRule(t *testing.T) {
	s := New()
	if err := s.UpdateExecutionInfo(context.Background(), "ghost", time.Now(), 1); err == nil {
		t.Fatal("expected an error updating execution info for a rule that doesn't exist")
	}
}
