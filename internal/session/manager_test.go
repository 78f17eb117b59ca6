package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dashstrom/easterobot/internal/hunt"
	"github.com/Dashstrom/easterobot/internal/ledger"
	"github.com/Dashstrom/easterobot/internal/scheduler"
)

type fakeNotifier struct {
	started chan string // item ids
}

func (f *fakeNotifier) HuntStarted(guildID, channelID, itemID, cellLabel string) {
	select {
	case f.started <- itemID:
	default:
	}
}

func (f *fakeNotifier) HuntSpotted(guildID, channelID, itemID, userID, cellLabel string)     {}
func (f *fakeNotifier) HuntClaimed(guildID, channelID, itemID, userID string, collected int) {}
func (f *fakeNotifier) HuntExpired(guildID, channelID, itemID, cellLabel string)             {}

func newTestManager(t *testing.T) (*Manager, *fakeNotifier, ledger.Store) {
	t.Helper()
	store, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "hunt.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := hunt.DefaultConfig()
	cfg.SpawnMin = 5 * time.Millisecond
	cfg.SpawnMax = 10 * time.Millisecond
	cfg.RetryAfter = 5 * time.Millisecond
	cfg.Hours = hunt.Window{} // always open
	configs, err := hunt.NewConfigs(cfg)
	if err != nil {
		t.Fatal(err)
	}

	notify := &fakeNotifier{started: make(chan string, 16)}
	mgr := NewManager(store, configs, notify, nil, slog.Default())
	t.Cleanup(mgr.Shutdown)
	return mgr, notify, store
}

func waitItem(t *testing.T, notify *fakeNotifier) string {
	t.Helper()
	select {
	case itemID := <-notify.started:
		return itemID
	case <-time.After(2 * time.Second):
		t.Fatal("no spawn observed")
		return ""
	}
}

func TestStartRefusesSecondSession(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Start(ctx, "g1", "c2"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	// another guild runs in parallel
	if err := mgr.Start(ctx, "g2", "c1"); err != nil {
		t.Fatal(err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Stop(ctx, "never-started"); err != nil {
		t.Fatalf("stop on unknown guild: %v", err)
	}

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Stop(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Stop(ctx, "g1"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if mgr.Active("g1") {
		t.Fatal("session still active after stop")
	}
}

func TestRouteClaimUnknownGuild(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.RouteClaim(context.Background(), "g1", "i1", "alice", time.Now())
	if !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild, got %v", err)
	}
}

func TestClaimFlowAcrossManager(t *testing.T) {
	mgr, notify, store := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	itemID := waitItem(t, notify)

	out, err := mgr.RouteClaim(ctx, "g1", itemID, "alice", time.Now())
	if err != nil || out != ledger.OutcomeWon {
		t.Fatalf("alice: outcome=%v err=%v", out, err)
	}
	out, err = mgr.RouteClaim(ctx, "g1", itemID, "bob", time.Now())
	if err != nil || out != ledger.OutcomeAlreadyClaimed {
		t.Fatalf("bob: outcome=%v err=%v", out, err)
	}

	entries, err := store.Leaderboard(ctx, "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].UserID != "alice" || entries[0].Collected != 1 {
		t.Fatalf("leaderboard = %+v", entries)
	}
}

func TestRouteClaimAfterStop(t *testing.T) {
	mgr, notify, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	itemID := waitItem(t, notify)
	if err := mgr.Stop(ctx, "g1"); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.RouteClaim(ctx, "g1", itemID, "alice", time.Now())
	if !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild, got %v", err)
	}
}

func TestRouteSearchUnknownGuild(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, _, err := mgr.RouteSearch(context.Background(), "g1", "alice", time.Now())
	if !errors.Is(err, ErrUnknownGuild) {
		t.Fatalf("expected ErrUnknownGuild, got %v", err)
	}
}

func TestSearchFlowAcrossManager(t *testing.T) {
	mgr, _, store := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}

	// a fresh member sits under the discovery shield, so the find is sure
	// and quiet
	res, n, err := mgr.RouteSearch(ctx, "g1", "alice", time.Now())
	if err != nil || res != scheduler.SearchFound || n != 1 {
		t.Fatalf("search: result=%v count=%d err=%v", res, n, err)
	}
	if got, _ := store.Collected(ctx, "g1", "alice"); got != 1 {
		t.Fatalf("collected = %d after search", got)
	}
}

func TestResumeRestartsPersistedHunts(t *testing.T) {
	mgr, notify, store := newTestManager(t)
	ctx := context.Background()

	rec := ledger.HuntRecord{GuildID: "g1", ChannelID: "c1", StartedAt: time.Now()}
	if err := store.SaveHunt(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if !mgr.Active("g1") {
		t.Fatal("resumed hunt not active")
	}
	if ch, ok := mgr.Channel("g1"); !ok || ch != "c1" {
		t.Fatalf("channel = %q, ok=%v", ch, ok)
	}
	waitItem(t, notify)
}

func TestPauseStopsSpawnsButKeepsClaims(t *testing.T) {
	mgr, notify, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx, "g1", "c1"); err != nil {
		t.Fatal(err)
	}
	itemID := waitItem(t, notify)

	if err := mgr.Pause("g1", true); err != nil {
		t.Fatal(err)
	}
	if got := mgr.State("g1"); got != StatePaused {
		t.Fatalf("state = %v, want paused", got)
	}
	// drain anything already in flight, then expect silence
	deadline := time.After(150 * time.Millisecond)
	quiet := time.After(50 * time.Millisecond)
drain:
	for {
		select {
		case <-notify.started:
			quiet = time.After(50 * time.Millisecond)
			select {
			case <-deadline:
				t.Fatal("spawns kept flowing while paused")
			default:
			}
		case <-quiet:
			break drain
		}
	}

	// live eggs are still claimable while paused
	out, err := mgr.RouteClaim(ctx, "g1", itemID, "alice", time.Now())
	if err != nil || out != ledger.OutcomeWon {
		t.Fatalf("claim while paused: outcome=%v err=%v", out, err)
	}

	if err := mgr.Pause("g1", false); err != nil {
		t.Fatal(err)
	}
	if got := mgr.State("g1"); got != StateActive {
		t.Fatalf("state = %v, want active", got)
	}
	waitItem(t, notify)
}
