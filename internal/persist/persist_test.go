package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/fleetdb/fleetdb/internal/model"
)

func TestFlushWritesSnapshotAndBackup(t *testing.T) {
	dir := t.TempDir()
	state := map[string]model.Object{"app.widgets.1": {"_id": "app.widgets.1"}}

	e := New(
		WithDataDir(dir),
		WithBackupDisabled(true),
		WithGetStateFunc(func() map[string]model.Object { return state }),
	)

	if err := e.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "objects.json")); err != nil {
		t.Fatalf("expected objects.json to exist: %v", err)
	}

	state["app.widgets.2"] = model.Object{"_id": "app.widgets.2"}
	if err := e.Flush(); err != nil {
		t.Fatalf("unexpected error on second flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "objects.json.bak")); err != nil {
		t.Fatalf("expected objects.json.bak to exist after second flush: %v", err)
	}
}

func TestLoadFallsBackToBackupOnCorruptPrimary(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "objects.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "objects.json.bak"), []byte(`{"app.widgets.1":{"_id":"app.widgets.1"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var loaded map[string]model.Object
	e := New(WithDataDir(dir), WithSetStateFunc(func(s map[string]model.Object) { loaded = s }))
	e.Load()

	if _, ok := loaded["app.widgets.1"]; !ok {
		t.Fatalf("expected fallback load from .bak, got %v", loaded)
	}
}

func TestLoadStartsEmptyWhenBothUnreadable(t *testing.T) {
	dir := t.TempDir()
	var loaded map[string]model.Object
	e := New(WithDataDir(dir), WithSetStateFunc(func(s map[string]model.Object) { loaded = s }))
	e.Load()

	if loaded == nil || len(loaded) != 0 {
		t.Fatalf("expected an empty keyspace when no snapshot exists, got %v", loaded)
	}
}

func TestRotatingBackupHonoursPeriodAndRetention(t *testing.T) {
	dir := t.TempDir()
	state := map[string]model.Object{"app.widgets.1": {"_id": "app.widgets.1"}}

	e := New(
		WithDataDir(dir),
		WithBackupPeriod(0),
		WithBackupFiles(1),
		WithBackupHours(0),
		WithGetStateFunc(func() map[string]model.Object { return state }),
	)

	if err := e.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backup-objects"))
	if err != nil {
		t.Fatalf("expected backup-objects dir to exist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one rotating backup, got %d", len(entries))
	}

	old := filepath.Join(dir, "backup-objects", "2000-01-01_00-00_objects.json.gz")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("unexpected error on second flush: %v", err)
	}

	entries, err = os.ReadDir(filepath.Join(dir, "backup-objects"))
	if err != nil {
		t.Fatalf("expected backup-objects dir to exist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected pruning to retain at most backupFiles=1 entries, got %d", len(entries))
	}
}

func TestFlushThenLoadRoundTripsNestedState(t *testing.T) {
	dir := t.TempDir()
	state := map[string]model.Object{
		"app.widgets.1": {
			"_id": "app.widgets.1",
			"acl": map[string]interface{}{
				"owner": "alice",
				"group": map[string]interface{}{"read": true, "write": false},
			},
			"tags": []interface{}{"a", "b"},
		},
	}

	e := New(WithDataDir(dir), WithBackupDisabled(true), WithGetStateFunc(func() map[string]model.Object { return state }))
	if err := e.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var loaded map[string]model.Object
	e2 := New(WithDataDir(dir), WithSetStateFunc(func(s map[string]model.Object) { loaded = s }))
	e2.Load()

	if diff := deep.Equal(state, loaded); diff != nil {
		t.Fatalf("round-tripped state differs: %v", diff)
	}
}

func TestDestroyRemovesSnapshotOnly(t *testing.T) {
	dir := t.TempDir()
	state := map[string]model.Object{"app.widgets.1": {"_id": "app.widgets.1"}}
	e := New(WithDataDir(dir), WithBackupDisabled(true), WithGetStateFunc(func() map[string]model.Object { return state }))
	_ = e.Flush()

	if err := e.Destroy(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "objects.json")); !os.IsNotExist(err) {
		t.Fatalf("expected objects.json to be removed, err=%v", err)
	}
}
