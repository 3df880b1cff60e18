package housekeeping

import (
	"context"
	"sync"
	"testing"
	"time"

	"notifybot/internal/access"
	"notifybot/internal/broadcast"
	"notifybot/internal/config"
	"notifybot/internal/storage"
	"notifybot/internal/transport"
	"notifybot/pkg/logx"
)

type fakeStore struct {
	mu    sync.Mutex
	saves []access.Snapshot
}

func (f *fakeStore) SaveWhitelist(_ context.Context, s access.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, s)
	return nil
}

func (f *fakeStore) LoadWhitelist(context.Context) (access.Snapshot, error) {
	return access.Snapshot{}, nil
}
func (f *fakeStore) AppendAudit(context.Context, storage.AuditEntry) error { return nil }
func (f *fakeStore) Close() error                                          { return nil }

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type nopSender struct{}

func (nopSender) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func newService(t *testing.T, cfg config.HousekeepingConfig, store storage.Store) (*Service, *access.Whitelist) {
	t.Helper()
	wl := access.New()
	wl.Seed(access.Snapshot{Admins: []int64{1}, Groups: []int64{-1}})
	reg := broadcast.NewRegistry(nopSender{}, logx.Nop())
	t.Cleanup(reg.Stop)
	s, err := New(cfg, wl, reg, store, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, wl
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	wl := access.New()
	reg := broadcast.NewRegistry(nopSender{}, logx.Nop())
	t.Cleanup(reg.Stop)

	cases := []struct {
		name string
		cfg  config.HousekeepingConfig
	}{
		{"bad timezone", config.HousekeepingConfig{Timezone: "Mars/Olympus"}},
		{"bad flush spec", config.HousekeepingConfig{FlushSpec: "every day maybe"}},
		{"bad report spec", config.HousekeepingConfig{ReportSpec: "***"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, wl, reg, &fakeStore{}, logx.Nop()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestFlushSkipsWhenUnchanged(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	s, _ := newService(t, config.HousekeepingConfig{}, store)

	s.flushWhitelist()
	s.flushWhitelist()
	if n := store.saveCount(); n != 0 {
		t.Fatalf("saves = %d, want 0 for an unchanged whitelist", n)
	}
}

func TestFlushPersistsAfterChange(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	s, wl := newService(t, config.HousekeepingConfig{}, store)

	wl.AddAdmin(42)
	s.flushWhitelist()
	if n := store.saveCount(); n != 1 {
		t.Fatalf("saves = %d, want 1", n)
	}
	// No further change, the next run must skip.
	s.flushWhitelist()
	if n := store.saveCount(); n != 1 {
		t.Fatalf("saves = %d after no-op run, want 1", n)
	}

	store.mu.Lock()
	saved := store.saves[0]
	store.mu.Unlock()
	if len(saved.Admins) != 2 {
		t.Fatalf("saved admins = %v, want the added one included", saved.Admins)
	}
}

func TestFlushScheduledByCron(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	s, wl := newService(t, config.HousekeepingConfig{
		FlushSpec:  "@every 50ms",
		ReportSpec: "@every 1h",
	}, store)

	wl.AddGroup(-77)
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for store.saveCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("cron never flushed the whitelist")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReportHandlesJobs(t *testing.T) {
	t.Parallel()
	reg := broadcast.NewRegistry(nopSender{}, logx.Nop())
	t.Cleanup(reg.Stop)
	reg.Add(broadcast.Spec{
		Interval: time.Hour,
		Messages: []string{"hello"},
		Targets:  []transport.ChatTarget{{ChatID: -1}},
	})

	wl := access.New()
	s, err := New(config.HousekeepingConfig{}, wl, reg, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.report() // must not panic with a nil store
}
