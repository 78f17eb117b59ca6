// Package session owns the registry of active guild hunts. The manager holds
// no game logic: it guarantees one scheduler per guild, hands each session
// its own lock, and routes claims to the right scheduler.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Dashstrom/easterobot/internal/grid"
	"github.com/Dashstrom/easterobot/internal/hunt"
	"github.com/Dashstrom/easterobot/internal/ledger"
	"github.com/Dashstrom/easterobot/internal/scheduler"
)

var (
	ErrAlreadyActive = errors.New("a hunt is already running for this guild")
	ErrUnknownGuild  = errors.New("no hunt is running for this guild")
)

// State is a session's lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateActive
	StatePaused
	StateEnded
)

// Session is one guild's running hunt. The mutex is the session boundary:
// every grid and ledger operation for the guild goes through it, so two
// guilds never contend on a lock.
type Session struct {
	GuildID   string
	ChannelID string
	StartedAt time.Time

	mu    sync.Mutex
	state State
	sched *scheduler.Scheduler
}

// Manager tracks active sessions. Its own mutex guards only the registry;
// session internals are guarded per-session.
type Manager struct {
	store   ledger.Store
	configs *hunt.Configs
	notify  scheduler.Notifier
	clk     scheduler.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store ledger.Store, configs *hunt.Configs, notify scheduler.Notifier, clk scheduler.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = scheduler.RealClock{}
	}
	return &Manager{
		store:    store,
		configs:  configs,
		notify:   notify,
		clk:      clk,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start activates a hunt for the guild, announcing spawns in channelID.
func (m *Manager) Start(ctx context.Context, guildID, channelID string) error {
	cfg := m.configs.For(guildID)

	m.mu.Lock()
	if _, ok := m.sessions[guildID]; ok {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	// Register before the durable writes so a concurrent Start is refused,
	// but leave the session idle until its scheduler exists.
	sess := &Session{
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: m.clk.Now(),
		state:     StateIdle,
	}
	m.sessions[guildID] = sess
	m.mu.Unlock()

	// Spawns recorded before a restart have lost their claim buttons, so
	// they are written off before the fresh grid comes up.
	if err := m.store.ExpireOpen(ctx, guildID); err != nil {
		m.remove(guildID)
		return err
	}
	if err := m.store.SaveHunt(ctx, ledger.HuntRecord{
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: sess.StartedAt,
	}); err != nil {
		m.remove(guildID)
		return err
	}

	grd := grid.New(cfg.GridWidth, cfg.GridHeight, nil)
	sched := scheduler.New(guildID, channelID, cfg, grd, m.store, m.notify, &sess.mu, m.clk, m.logger)
	sess.mu.Lock()
	sess.sched = sched
	sess.state = StateActive
	sess.mu.Unlock()
	go sched.Run()

	m.logger.Info("hunt started", "guild", guildID, "channel", channelID)
	return nil
}

// Stop ends a guild's hunt, flushing pending expiries. Stopping a guild with
// no hunt is a no-op.
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[guildID]
	if ok {
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if sched := sess.scheduler(); sched != nil {
		sched.Stop()
	}
	sess.mu.Lock()
	sess.state = StateEnded
	sess.mu.Unlock()

	if err := m.store.DeleteHunt(ctx, guildID); err != nil {
		return err
	}
	m.logger.Info("hunt ended", "guild", guildID)
	return nil
}

// Pause suspends or resumes spawning for a guild without ending the session.
func (m *Manager) Pause(guildID string, paused bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownGuild
	}

	sched := sess.scheduler()
	if sched == nil {
		return ErrUnknownGuild
	}
	sched.Pause(paused)
	sess.mu.Lock()
	if paused {
		sess.state = StatePaused
	} else {
		sess.state = StateActive
	}
	sess.mu.Unlock()
	return nil
}

// RouteClaim forwards a claim interaction to the guild's scheduler.
func (m *Manager) RouteClaim(ctx context.Context, guildID, itemID, userID string, at time.Time) (ledger.Outcome, error) {
	m.mu.Lock()
	sess, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return ledger.OutcomeNotFound, ErrUnknownGuild
	}
	sched := sess.scheduler()
	if sched == nil {
		return ledger.OutcomeNotFound, ErrUnknownGuild
	}
	return sched.Claim(ctx, itemID, userID, at)
}

// RouteSearch forwards a member's search attempt to the guild's scheduler.
func (m *Manager) RouteSearch(ctx context.Context, guildID, userID string, at time.Time) (scheduler.SearchResult, int, error) {
	m.mu.Lock()
	sess, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return scheduler.SearchNothing, 0, ErrUnknownGuild
	}
	sched := sess.scheduler()
	if sched == nil {
		return scheduler.SearchNothing, 0, ErrUnknownGuild
	}
	return sched.Search(ctx, userID, at)
}

// Resume restarts every hunt that was active before the process went down.
func (m *Manager) Resume(ctx context.Context) error {
	hunts, err := m.store.ListHunts(ctx)
	if err != nil {
		return err
	}
	for _, rec := range hunts {
		if err := m.Start(ctx, rec.GuildID, rec.ChannelID); err != nil {
			m.logger.Error("failed to resume hunt", "guild", rec.GuildID, "error", err)
		}
	}
	return nil
}

// Shutdown stops all schedulers without deleting the persisted hunts, so the
// sessions come back on the next Resume.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for guildID, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		if sched := sess.scheduler(); sched != nil {
			sched.Stop()
		}
	}
}

// State reports a guild session's lifecycle stage. Guilds with no session
// report StateIdle.
func (m *Manager) State(guildID string) State {
	m.mu.Lock()
	sess, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// Active reports whether a guild currently has a session.
func (m *Manager) Active(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[guildID]
	return ok
}

// Channel returns the announce channel for a guild's session.
func (m *Manager) Channel(guildID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[guildID]
	if !ok {
		return "", false
	}
	return sess.ChannelID, true
}

func (s *Session) scheduler() *scheduler.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

func (m *Manager) remove(guildID string) {
	m.mu.Lock()
	delete(m.sessions, guildID)
	m.mu.Unlock()
}
