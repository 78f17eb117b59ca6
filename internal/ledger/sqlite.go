package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Dashstrom/easterobot/internal/grid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the production Store. A single connection plus WAL keeps
// writes serialized at the database level, on top of the per-session locks
// that order calls for each guild.
type SQLiteStore struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	topStmt    *sql.Stmt
	countStmt  *sql.Stmt
	maxStmt    *sql.Stmt
	huntsStmt  *sql.Stmt
	saveHunt   *sql.Stmt
	deleteHunt *sql.Stmt
}

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db path: %w", err)
	}

	// DSN notes:
	// - _pragma=busy_timeout sets a lock wait
	// - _pragma=journal_mode(WAL) enables the write-ahead log
	// - _pragma=synchronous(NORMAL) sets the disk synchronizing
	//	 mode to NORMAL (recommended with WAL enabled)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", filepath.Clean(dbPath))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.insertStmt, `
			INSERT INTO spawns (guild_id, item_id, cell, spawned_at, state)
			VALUES (?,?,?,?,0)
		`},
		{&s.topStmt, `
			SELECT user_id, collected, last_claim
			FROM participants
			WHERE guild_id = ? AND collected > 0
			ORDER BY collected DESC, last_claim ASC
			LIMIT ?
		`},
		{&s.countStmt, `
			SELECT collected FROM participants
			WHERE guild_id = ? AND user_id = ?
		`},
		{&s.maxStmt, `
			SELECT COALESCE(MAX(collected), 0) FROM participants
			WHERE guild_id = ?
		`},
		{&s.huntsStmt, `
			SELECT guild_id, channel_id, started_at FROM hunts
		`},
		{&s.saveHunt, `
			INSERT INTO hunts (guild_id, channel_id, started_at)
			VALUES (?,?,?)
			ON CONFLICT(guild_id) DO UPDATE SET
				channel_id = excluded.channel_id,
				started_at = excluded.started_at
		`},
		{&s.deleteHunt, `
			DELETE FROM hunts WHERE guild_id = ?
		`},
	}
	for _, p := range stmts {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		*p.dst = stmt
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.insertStmt, s.topStmt, s.countStmt, s.maxStmt,
		s.huntsStmt, s.saveHunt, s.deleteHunt,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spawns (
			guild_id    TEXT    NOT NULL,
			item_id     TEXT    NOT NULL,
			cell        INTEGER NOT NULL,
			spawned_at  INTEGER NOT NULL,
			state       INTEGER NOT NULL DEFAULT 0,
			claimed_by  TEXT,
			claimed_at  INTEGER,
			PRIMARY KEY (guild_id, item_id)
		);
		CREATE INDEX IF NOT EXISTS idx_spawns_open
			ON spawns (guild_id, state);

		CREATE TABLE IF NOT EXISTS participants (
			guild_id    TEXT    NOT NULL,
			user_id     TEXT    NOT NULL,
			collected   INTEGER NOT NULL DEFAULT 0,
			last_claim  INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_leaderboard
			ON participants (guild_id, collected DESC, last_claim ASC);

		CREATE TABLE IF NOT EXISTS hunts (
			guild_id    TEXT PRIMARY KEY,
			channel_id  TEXT    NOT NULL,
			started_at  INTEGER NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) RecordSpawn(ctx context.Context, guildID, itemID string, cell grid.CellID, at time.Time) error {
	_, err := s.insertStmt.ExecContext(ctx, guildID, itemID, int(cell), at.Unix())
	if err == nil {
		return nil
	}

	// The only constraint on spawns is the (guild, item) key, so a failed
	// insert with an existing row is a duplicate id.
	var exists int
	checkErr := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM spawns WHERE guild_id = ? AND item_id = ?`,
		guildID, itemID,
	).Scan(&exists)
	if checkErr == nil {
		return fmt.Errorf("item %s in guild %s: %w", itemID, guildID, ErrDuplicateItem)
	}
	return err
}

func (s *SQLiteStore) Claim(ctx context.Context, guildID, itemID, userID string, at time.Time) (Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeNotFound, err
	}
	defer tx.Rollback()

	var state int
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM spawns WHERE guild_id = ? AND item_id = ?`,
		guildID, itemID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeNotFound, err
	}

	switch SpawnState(state) {
	case SpawnClaimed:
		return OutcomeAlreadyClaimed, nil
	case SpawnExpired:
		return OutcomeExpired, nil
	}

	// Settle the claim and bump the winner's tally as one unit. If either
	// write fails the deferred rollback undoes both.
	if _, err := tx.ExecContext(ctx,
		`UPDATE spawns SET state = ?, claimed_by = ?, claimed_at = ?
		 WHERE guild_id = ? AND item_id = ?`,
		int(SpawnClaimed), userID, at.Unix(), guildID, itemID,
	); err != nil {
		return OutcomeNotFound, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (guild_id, user_id, collected, last_claim)
		 VALUES (?,?,1,?)
		 ON CONFLICT(guild_id, user_id) DO UPDATE SET
			collected = collected + 1,
			last_claim = excluded.last_claim`,
		guildID, userID, at.Unix(),
	); err != nil {
		return OutcomeNotFound, err
	}

	if err := tx.Commit(); err != nil {
		return OutcomeNotFound, err
	}
	return OutcomeWon, nil
}

func (s *SQLiteStore) Expire(ctx context.Context, guildID, itemID string, now time.Time, lifetime time.Duration) (bool, grid.CellID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var state, cell int
	var spawnedAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT state, cell, spawned_at FROM spawns WHERE guild_id = ? AND item_id = ?`,
		guildID, itemID,
	).Scan(&state, &cell, &spawnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	if SpawnState(state) != SpawnUnclaimed {
		return false, 0, nil
	}
	if now.Sub(time.Unix(spawnedAt, 0)) < lifetime {
		return false, 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE spawns SET state = ? WHERE guild_id = ? AND item_id = ?`,
		int(SpawnExpired), guildID, itemID,
	); err != nil {
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, grid.CellID(cell), nil
}

func (s *SQLiteStore) Award(ctx context.Context, guildID, userID string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (guild_id, user_id, collected, last_claim)
		 VALUES (?,?,1,?)
		 ON CONFLICT(guild_id, user_id) DO UPDATE SET
			collected = collected + 1,
			last_claim = excluded.last_claim`,
		guildID, userID, at.Unix(),
	); err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT collected FROM participants WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&n); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) ExpireOpen(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET state = ? WHERE guild_id = ? AND state = ?`,
		int(SpawnExpired), guildID, int(SpawnUnclaimed),
	)
	return err
}

func (s *SQLiteStore) Leaderboard(ctx context.Context, guildID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.topStmt.QueryContext(ctx, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var lastClaim int64
		if err := rows.Scan(&e.UserID, &e.Collected, &lastClaim); err != nil {
			return nil, err
		}
		e.LastClaim = time.Unix(lastClaim, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Collected(ctx context.Context, guildID, userID string) (int, error) {
	var n int
	err := s.countStmt.QueryRowContext(ctx, guildID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *SQLiteStore) MaxCollected(ctx context.Context, guildID string) (int, error) {
	var n int
	err := s.maxStmt.QueryRowContext(ctx, guildID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SaveHunt(ctx context.Context, rec HuntRecord) error {
	_, err := s.saveHunt.ExecContext(ctx, rec.GuildID, rec.ChannelID, rec.StartedAt.Unix())
	return err
}

func (s *SQLiteStore) DeleteHunt(ctx context.Context, guildID string) error {
	_, err := s.deleteHunt.ExecContext(ctx, guildID)
	return err
}

func (s *SQLiteStore) ListHunts(ctx context.Context) ([]HuntRecord, error) {
	rows, err := s.huntsStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HuntRecord
	for rows.Next() {
		var rec HuntRecord
		var startedAt int64
		if err := rows.Scan(&rec.GuildID, &rec.ChannelID, &startedAt); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(startedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
