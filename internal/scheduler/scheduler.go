// Package scheduler drives one guild's spawn loop: jittered timing, grid
// placement, expiry timers and claim settlement, all serialized through the
// session lock handed in by the session manager.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dashstrom/easterobot/internal/grid"
	"github.com/Dashstrom/easterobot/internal/hunt"
	"github.com/Dashstrom/easterobot/internal/ledger"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Notifier is the outbound edge to the chat platform. Calls are best-effort:
// the scheduler never waits on them and a failed delivery never rolls back a
// spawn or a claim.
type Notifier interface {
	HuntStarted(guildID, channelID, itemID, cellLabel string)
	HuntSpotted(guildID, channelID, itemID, userID, cellLabel string)
	HuntClaimed(guildID, channelID, itemID, userID string, collected int)
	HuntExpired(guildID, channelID, itemID, cellLabel string)
}

// SearchResult is what a search attempt turned up.
type SearchResult int

const (
	SearchNothing SearchResult = iota
	SearchFound   // an egg went straight into the finder's basket
	SearchSpotted // the finder was seen and the egg went up for grabs
)

// ClaimResult is pushed back to the loop after a claim settles, so the
// notification happens on the loop goroutine rather than the claimer's.
type ClaimResult struct {
	ItemID    string
	UserID    string
	Outcome   ledger.Outcome
	Collected int
}

// Scheduler owns the spawn state machine for a single guild session. One
// goroutine runs the loop; claims and expiry timers enter from other
// goroutines but every grid or ledger touch happens under mu, the lock
// shared with the owning session.
type Scheduler struct {
	guildID   string
	channelID string
	cfg       hunt.GuildConfig
	store     ledger.Store
	notify    Notifier
	clk       Clock
	logger    *slog.Logger

	mu    *sync.Mutex
	grd   *grid.Grid
	live  map[string]grid.CellID // unclaimed items to their cells
	exp   map[string]*time.Timer // pending expiry timers by item id
	ended bool

	rng       *mrand.Rand // loop goroutine only
	searchRng *mrand.Rand // guarded by mu

	claims   chan ClaimResult
	pause    chan bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(
	guildID, channelID string,
	cfg hunt.GuildConfig,
	grd *grid.Grid,
	store ledger.Store,
	notify Notifier,
	mu *sync.Mutex,
	clk Clock,
	logger *slog.Logger,
) *Scheduler {
	if clk == nil {
		clk = RealClock{}
	}

	return &Scheduler{
		guildID:   guildID,
		channelID: channelID,
		cfg:       cfg,
		store:     store,
		notify:    notify,
		clk:       clk,
		logger:    logger.With("guild", guildID),
		mu:        mu,
		grd:       grd,
		live:      make(map[string]grid.CellID),
		exp:       make(map[string]*time.Timer),
		rng:       seededRand(),
		searchRng: seededRand(),
		claims:    make(chan ClaimResult, 16),
		pause:     make(chan bool, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func seededRand() *mrand.Rand {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	return mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(b[:]))))
}

// Interval computes the jittered wait before the next spawn. draw is a
// uniform sample in [0,1); occupancy stretches the interval linearly up to
// the configured maximum multiplier so a crowded grid slows down.
func (s *Scheduler) Interval(draw, occupancy float64) time.Duration {
	span := s.cfg.SpawnMax - s.cfg.SpawnMin
	base := s.cfg.SpawnMin + time.Duration(draw*float64(span))
	backoff := 1 + (s.cfg.MaxBackoff-1)*occupancy
	return time.Duration(float64(base) * backoff)
}

func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	occupancy := s.grd.Occupancy()
	s.mu.Unlock()

	return s.Interval(s.rng.Float64(), occupancy)
}

// Run is the loop goroutine. It cycles waiting -> spawning -> waiting until
// Stop is called, draining settled claims while it waits.
func (s *Scheduler) Run() {
	defer close(s.done)

	paused := false
	wait := s.nextInterval()
	for {
		fireAt := s.nextFire(wait)
		timer := time.NewTimer(fireAt.Sub(s.clk.Now()))
	waiting:
		for {
			select {
			case <-s.stop:
				timer.Stop()
				return
			case p := <-s.pause:
				paused = p
			case res := <-s.claims:
				s.announceClaim(res)
			case <-timer.C:
				break waiting
			}
		}

		if paused {
			// hold the cycle until unpaused, still answering claims
			for paused {
				select {
				case <-s.stop:
					return
				case p := <-s.pause:
					paused = p
				case res := <-s.claims:
					s.announceClaim(res)
				}
			}
		}

		if now := s.clk.Now(); !s.cfg.Hours.Contains(now) {
			// the window closed while we slept
			wait = s.cfg.Hours.NextOpening(now).Sub(now)
			continue
		}

		if s.spawnOnce() {
			wait = s.nextInterval()
		} else {
			// skipped cycle; come back quickly once a cell frees up
			wait = s.cfg.RetryAfter
		}
	}
}

// nextFire places the next spawn attempt, pushing it to the window opening
// when the jittered wait would land outside active hours.
func (s *Scheduler) nextFire(wait time.Duration) time.Time {
	fireAt := s.clk.Now().Add(wait)
	if !s.cfg.Hours.Contains(fireAt) {
		fireAt = s.cfg.Hours.NextOpening(fireAt)
		s.logger.Info("spawn deferred to active hours", "at", fireAt)
	}
	return fireAt
}

// spawnOnce places one item for the loop, reporting false on a skipped
// cycle.
func (s *Scheduler) spawnOnce() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return true
	}
	itemID, label, err := s.placeItem(s.clk.Now())
	s.mu.Unlock()

	if errors.Is(err, grid.ErrFull) {
		s.logger.Info("spawn skipped, grid full")
		return false
	}
	if errors.Is(err, ledger.ErrDuplicateItem) {
		s.logger.Error("duplicate item id minted", "error", err)
		return true
	}
	if err != nil {
		s.logger.Error("spawn not recorded", "error", err)
		return false
	}

	s.logger.Info("item spawned", "item", itemID, "cell", label)
	go s.notify.HuntStarted(s.guildID, s.channelID, itemID, label)
	return true
}

// placeItem allocates a cell and durably records the spawn, arming its
// expiry timer. Caller holds mu. The cell allocation is undone whenever the
// ledger write does not land, so there is never an occupied cell without a
// row.
func (s *Scheduler) placeItem(now time.Time) (string, string, error) {
	itemID := uuid.NewString()
	cell, err := s.grd.Allocate(itemID)
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.RecordSpawn(ctx, s.guildID, itemID, cell, now); err != nil {
		s.grd.Release(cell)
		return "", "", err
	}

	s.live[itemID] = cell
	s.exp[itemID] = time.AfterFunc(s.cfg.ItemLifetime, func() {
		s.expire(itemID)
	})
	return itemID, s.grd.Label(cell), nil
}

// Search rolls a member's discovery attempt. Odds follow their standing
// against the guild leader: trailing members discover more and are spotted
// less. A spotted find goes onto the grid for everyone; a quiet find lands
// straight in the finder's basket.
func (s *Scheduler) Search(ctx context.Context, userID string, at time.Time) (SearchResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.store.Collected(ctx, s.guildID, userID)
	if err != nil {
		return SearchNothing, 0, err
	}
	leader, err := s.store.MaxCollected(ctx, s.guildID)
	if err != nil {
		return SearchNothing, 0, err
	}
	luck := hunt.Luck(count, leader)

	if s.cfg.Search.Discover(count, luck) <= s.searchRng.Float64() {
		return SearchNothing, count, nil
	}

	if s.cfg.Search.Spot(count, luck) > s.searchRng.Float64() && !s.ended {
		itemID, label, err := s.placeItem(at)
		if err == nil {
			s.logger.Info("searcher spotted", "user", userID, "item", itemID, "cell", label)
			go s.notify.HuntSpotted(s.guildID, s.channelID, itemID, userID, label)
			return SearchSpotted, count, nil
		}
		if !errors.Is(err, grid.ErrFull) {
			return SearchNothing, count, err
		}
		// no room for a public egg, so the find stays quiet
	}

	n, err := s.store.Award(ctx, s.guildID, userID, at)
	if err != nil {
		return SearchNothing, count, err
	}
	s.logger.Info("item found by search", "user", userID, "collected", n)
	return SearchFound, n, nil
}

// Claim settles a claim attempt under the session lock. Exactly one caller
// for a given item sees OutcomeWon; the winner's expiry timer is cancelled
// and the cell freed.
func (s *Scheduler) Claim(ctx context.Context, itemID, userID string, at time.Time) (ledger.Outcome, error) {
	s.mu.Lock()
	outcome, err := s.store.Claim(ctx, s.guildID, itemID, userID, at)
	if err != nil {
		s.mu.Unlock()
		return outcome, err
	}

	collected := 0
	if outcome == ledger.OutcomeWon {
		if t, ok := s.exp[itemID]; ok {
			t.Stop()
			delete(s.exp, itemID)
		}
		if cell, ok := s.live[itemID]; ok {
			s.grd.Release(cell)
			delete(s.live, itemID)
		}
		if n, err := s.store.Collected(ctx, s.guildID, userID); err == nil {
			collected = n
		}
	}
	s.mu.Unlock()

	if outcome == ledger.OutcomeWon {
		select {
		case s.claims <- ClaimResult{ItemID: itemID, UserID: userID, Outcome: outcome, Collected: collected}:
		default:
			// loop is busy; the claimer already got their answer
		}
	}
	return outcome, nil
}

func (s *Scheduler) expire(itemID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	delete(s.exp, itemID)
	if s.ended {
		s.mu.Unlock()
		return
	}
	expired, cell, err := s.store.Expire(ctx, s.guildID, itemID, s.clk.Now(), s.cfg.ItemLifetime)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("expiry failed", "item", itemID, "error", err)
		return
	}
	if !expired {
		s.mu.Unlock()
		return
	}
	s.grd.Release(cell)
	delete(s.live, itemID)
	label := s.grd.Label(cell)
	s.mu.Unlock()

	s.logger.Info("item expired", "item", itemID, "cell", label)
	go s.notify.HuntExpired(s.guildID, s.channelID, itemID, label)
}

func (s *Scheduler) announceClaim(res ClaimResult) {
	go s.notify.HuntClaimed(s.guildID, s.channelID, res.ItemID, res.UserID, res.Collected)
}

// Pause suspends spawning without ending the session. Claims on live items
// keep working.
func (s *Scheduler) Pause(v bool) {
	select {
	case s.pause <- v:
	case <-s.done:
	}
}

// Stop ends the loop and flushes pending expiries: every live item is
// expired immediately and its cell released.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	s.mu.Lock()
	s.ended = true
	for itemID, t := range s.exp {
		t.Stop()
		delete(s.exp, itemID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.ExpireOpen(ctx, s.guildID); err != nil {
		s.logger.Error("failed to expire open spawns", "error", err)
	}
	for itemID, cell := range s.live {
		s.grd.Release(cell)
		delete(s.live, itemID)
	}
	s.mu.Unlock()
}
