package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"notifybot/internal/access"
	"notifybot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}

	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestWhitelistRoundtrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	want := access.Snapshot{
		Maintainers: []int64{1},
		Admins:      []int64{2, 3},
		Groups:      []int64{-100, -200},
	}
	if err := st.SaveWhitelist(ctx, want); err != nil {
		t.Fatalf("SaveWhitelist: %v", err)
	}

	got, err := st.LoadWhitelist(ctx)
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(got.Maintainers) != 1 || got.Maintainers[0] != 1 {
		t.Fatalf("maintainers = %v", got.Maintainers)
	}
	if len(got.Admins) != 2 || len(got.Groups) != 2 {
		t.Fatalf("admins = %v, groups = %v", got.Admins, got.Groups)
	}

	// Save replaces, never merges.
	if err := st.SaveWhitelist(ctx, access.Snapshot{Admins: []int64{9}}); err != nil {
		t.Fatalf("SaveWhitelist: %v", err)
	}
	got, err = st.LoadWhitelist(ctx)
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(got.Maintainers) != 0 || len(got.Admins) != 1 || got.Admins[0] != 9 {
		t.Fatalf("snapshot after replace: %+v", got)
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	entries := []AuditEntry{
		{ActorID: 1, Action: "job.add", Target: "3", OK: true},
		{At: time.Now(), ActorID: 2, Action: "job.remove", Target: "3", OK: false, Error: "job not found"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit(%+v): %v", e, err)
		}
	}
}
