package vm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/store/memstore"
)

func TestWriteSnapshotIfChangedSkipsWhenUnchanged(t *testing.T) {
	s := memstore.New()
	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "snapshot.cbor")
	m := newTestVM(t, s, cfg)

	m.writeSnapshotIfChanged()

	if _, err := os.Stat(cfg.SnapshotPath); err == nil {
		t.Fatal("expected no snapshot file to be written when nothing changed")
	}
}

func TestWriteAndRestoreSnapshotRoundTrip(t *testing.T) {
	s := memstore.New()
	s.PutDevice(store.DeviceDocument{DeviceID: "dev-1", RelayStatus: []int{1}})
	s.PutRule(store.ChangeAdded, relayRuleDoc("r1", "dev-1", 1))

	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "snapshot.cbor")
	m := newTestVM(t, s, cfg)
	m.setAwaiting("r1")
	m.writeSnapshotIfChanged()

	m2 := newTestVM(t, s, cfg)
	m2.restoreSnapshot(context.Background())

	if !m2.isAwaiting("r1") {
		t.Error("expected r1 to be restored into the awaiting-completion list")
	}
	select {
	case entry := <-m2.readyQueue:
		if entry.RuleID != "r1" {
			t.Errorf("restored entry RuleID = %q, want r1", entry.RuleID)
		}
	default:
		t.Fatal("expected a restored rule to be re-enqueued onto the ready-queue")
	}
}

func TestRestoreSnapshotSkipsUnknownRuleID(t *testing.T) {
	s := memstore.New()
	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "snapshot.cbor")
	m := newTestVM(t, s, cfg)
	m.setAwaiting("ghost-rule")
	m.writeSnapshotIfChanged()

	m2 := newTestVM(t, s, cfg)
	m2.restoreSnapshot(context.Background())

	if m2.isAwaiting("ghost-rule") {
		t.Error("expected a rule id absent from the registry to be skipped on restore")
	}
}

func TestRestoreSnapshotMissingFileIsNoop(t *testing.T) {
	s := memstore.New()
	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "does-not-exist.cbor")
	m := newTestVM(t, s, cfg)

	m.restoreSnapshot(context.Background())

	if len(m.AwaitingRuleIDs()) != 0 {
		t.Error("expected no awaiting rules after restoring from a missing snapshot file")
	}
}

func TestRestoreSnapshotCorruptFileIsNoop(t *testing.T) {
	s := memstore.New()
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "corrupt.cbor")
	cfg.SnapshotPath = path
	if err := os.WriteFile(path, []byte("not valid cbor"), 0640); err != nil {
		t.Fatalf("write corrupt snapshot fixture: %v", err)
	}
	m := newTestVM(t, s, cfg)

	m.restoreSnapshot(context.Background())

	if len(m.AwaitingRuleIDs()) != 0 {
		t.Error("expected no awaiting rules after restoring from a corrupt snapshot file")
	}
}

func TestRestoreSnapshotNoopWhenPathEmpty(t *testing.T) {
	s := memstore.New()
	cfg := testConfig()
	cfg.SnapshotPath = ""
	m := newTestVM(t, s, cfg)

	m.restoreSnapshot(context.Background())

	if len(m.AwaitingRuleIDs()) != 0 {
		t.Error("expected no-op restore when SnapshotPath is empty")
	}
}
