package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Dashstrom/easterobot/internal/grid"
)

// ErrDuplicateItem signals an item id reused within a guild. The scheduler
// mints ids, so hitting this means a bug upstream, not a recoverable race.
var ErrDuplicateItem = errors.New("item id already recorded for this guild")

// Outcome is the result of a claim attempt. Losing races are outcomes, not
// errors: they are normal gameplay and are answered in chat, never logged as
// failures.
type Outcome int

const (
	OutcomeWon Outcome = iota
	OutcomeAlreadyClaimed
	OutcomeExpired
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWon:
		return "won"
	case OutcomeAlreadyClaimed:
		return "already claimed"
	case OutcomeExpired:
		return "expired"
	default:
		return "not found"
	}
}

// SpawnState tracks the single permitted transition chain of a spawn:
// unclaimed -> claimed, or unclaimed -> expired. Rows are never deleted.
type SpawnState int

const (
	SpawnUnclaimed SpawnState = iota
	SpawnClaimed
	SpawnExpired
)

// SpawnEvent is one item placed on a cell.
type SpawnEvent struct {
	GuildID   string
	ItemID    string
	Cell      grid.CellID
	SpawnedAt time.Time
	State     SpawnState
	ClaimedBy string
	ClaimedAt time.Time
}

// Entry is one leaderboard row.
type Entry struct {
	UserID    string
	Collected int
	LastClaim time.Time
}

// HuntRecord is a persisted active session, used to resume hunts on restart.
type HuntRecord struct {
	GuildID   string
	ChannelID string
	StartedAt time.Time
}

// Store is the durable side of the hunt engine. All mutating calls for one
// guild must be serialized by that guild's session; the store itself only
// guarantees that each call is atomic.
type Store interface {
	RecordSpawn(ctx context.Context, guildID, itemID string, cell grid.CellID, at time.Time) error
	Claim(ctx context.Context, guildID, itemID, userID string, at time.Time) (Outcome, error)
	// Expire transitions an unclaimed spawn older than lifetime to expired
	// and reports whether a transition happened. Cell release is the
	// caller's job.
	Expire(ctx context.Context, guildID, itemID string, now time.Time, lifetime time.Duration) (bool, grid.CellID, error)
	// ExpireOpen expires every unclaimed spawn in a guild, used when a
	// session restarts and its old notices are no longer claimable.
	ExpireOpen(ctx context.Context, guildID string) error
	// Award credits a participant with one item outside the claim flow,
	// used when a search finds an egg quietly, and returns the new tally.
	Award(ctx context.Context, guildID, userID string, at time.Time) (int, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]Entry, error)
	Collected(ctx context.Context, guildID, userID string) (int, error)
	MaxCollected(ctx context.Context, guildID string) (int, error)

	SaveHunt(ctx context.Context, rec HuntRecord) error
	DeleteHunt(ctx context.Context, guildID string) error
	ListHunts(ctx context.Context) ([]HuntRecord, error)
}
