package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/events"
)

// Match is a durable record of a finished or aborted game.
type Match struct {
	SessionID    uuid.UUID
	Participants []string
	Scores       map[string]int
	Winner       string
	Aborted      bool
	Forfeited    []string
	TournamentID *uuid.UUID
	Round        int
	StartedAt    time.Time
	EndedAt      time.Time
	RecordedAt   time.Time
}

// ErrMatchNotFound is returned when a match lookup yields no results.
var ErrMatchNotFound = errors.New("match not found")

// MatchStore persists match outcomes.
type MatchStore struct {
	db *pgxpool.Pool
}

// NewMatchStore creates a MatchStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMatchStore(db *pgxpool.Pool) *MatchStore {
	return &MatchStore{db: db}
}

// EnsureSchema creates the matches table if it does not exist.
//
// Postcondition: The matches table and its indexes exist.
func (s *MatchStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS matches (
			session_id    UUID         PRIMARY KEY,
			participants  TEXT[]       NOT NULL,
			scores        JSONB        NOT NULL,
			winner        VARCHAR(64)  NOT NULL DEFAULT '',
			aborted       BOOLEAN      NOT NULL DEFAULT FALSE,
			forfeited     TEXT[]       NOT NULL DEFAULT '{}',
			tournament_id UUID,
			round         INT          NOT NULL DEFAULT 0,
			started_at    TIMESTAMPTZ,
			ended_at      TIMESTAMPTZ  NOT NULL,
			recorded_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_matches_participants ON matches USING GIN (participants);
		CREATE INDEX IF NOT EXISTS idx_matches_tournament ON matches (tournament_id) WHERE tournament_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating matches schema: %w", err)
	}
	return nil
}

// Save inserts a finalized outcome. Saving the same session twice is a no-op,
// which makes at-least-once delivery from the recorder safe.
//
// Postcondition: A row for the outcome's session id exists.
func (s *MatchStore) Save(ctx context.Context, out events.Outcome) error {
	scores, err := json.Marshal(out.Scores)
	if err != nil {
		return fmt.Errorf("encoding scores: %w", err)
	}

	var tournamentID *uuid.UUID
	if out.TournamentID != uuid.Nil {
		tournamentID = &out.TournamentID
	}

	// pgx encodes a nil slice as SQL NULL, which the NOT NULL array columns
	// reject; a normal win carries no forfeits.
	participants := out.Participants
	if participants == nil {
		participants = []string{}
	}
	forfeited := out.Forfeited
	if forfeited == nil {
		forfeited = []string{}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO matches (session_id, participants, scores, winner, aborted, forfeited, tournament_id, round, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO NOTHING`,
		out.SessionID, participants, scores, out.Winner, out.Aborted,
		forfeited, tournamentID, out.Round, nullableTime(out.StartedAt), out.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}
	return nil
}

// Get retrieves a match by session id.
//
// Postcondition: Returns the Match or ErrMatchNotFound.
func (s *MatchStore) Get(ctx context.Context, sessionID uuid.UUID) (Match, error) {
	row := s.db.QueryRow(ctx,
		`SELECT session_id, participants, scores, winner, aborted, forfeited, tournament_id, round, started_at, ended_at, recorded_at
		 FROM matches WHERE session_id = $1`,
		sessionID,
	)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrMatchNotFound
		}
		return Match{}, fmt.Errorf("querying match: %w", err)
	}
	return m, nil
}

// RecentByUser returns the user's most recent matches, newest first.
//
// Precondition: limit must be positive.
func (s *MatchStore) RecentByUser(ctx context.Context, userID string, limit int) ([]Match, error) {
	rows, err := s.db.Query(ctx,
		`SELECT session_id, participants, scores, winner, aborted, forfeited, tournament_id, round, started_at, ended_at, recorded_at
		 FROM matches WHERE $1 = ANY(participants)
		 ORDER BY ended_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// ByTournament returns every recorded match of a tournament, in round then
// end-time order.
func (s *MatchStore) ByTournament(ctx context.Context, tournamentID uuid.UUID) ([]Match, error) {
	rows, err := s.db.Query(ctx,
		`SELECT session_id, participants, scores, winner, aborted, forfeited, tournament_id, round, started_at, ended_at, recorded_at
		 FROM matches WHERE tournament_id = $1
		 ORDER BY round, ended_at`,
		tournamentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tournament matches: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

func scanMatch(row pgx.Row) (Match, error) {
	var (
		m         Match
		scores    []byte
		startedAt *time.Time
	)
	err := row.Scan(&m.SessionID, &m.Participants, &scores, &m.Winner, &m.Aborted,
		&m.Forfeited, &m.TournamentID, &m.Round, &startedAt, &m.EndedAt, &m.RecordedAt)
	if err != nil {
		return Match{}, err
	}
	if err := json.Unmarshal(scores, &m.Scores); err != nil {
		return Match{}, fmt.Errorf("decoding scores: %w", err)
	}
	if startedAt != nil {
		m.StartedAt = *startedAt
	}
	return m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
