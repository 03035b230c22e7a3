package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
)

const selectColumns = "id, external_id, name, interests, goals, created_at, updated_at"

// SQLStore persists profiles in the users table.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *slog.Logger
}

// NewSQLStore creates a store on an open, migrated database.
func NewSQLStore(db *database.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db.DB,
		dialect: db.Dialect,
		logger:  logger.With("component", "profile-store"),
	}
}

// FindOrCreate returns the profile for externalID, creating it with empty
// interests and goals when absent. An existing profile keeps its stored name.
// Uniqueness on external_id makes concurrent calls converge on one row.
func (s *SQLStore) FindOrCreate(ctx context.Context, externalID int64, displayName string) (Profile, error) {
	insert := s.q(`INSERT INTO users (external_id, name, interests, goals)
		VALUES (?, ?, '[]', '[]')
		ON CONFLICT (external_id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, insert, externalID, displayName)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile %d: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("profile created", "external_id", externalID)
	}

	return s.Get(ctx, externalID)
}

// Get returns the profile for externalID or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, externalID int64) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		s.q("SELECT "+selectColumns+" FROM users WHERE external_id = ?"), externalID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %d: %w", externalID, err)
	}
	return p, nil
}

// Save writes name, interests and goals back by ID and returns the stored
// profile. The external identity is part of the match so it can never change.
func (s *SQLStore) Save(ctx context.Context, p Profile) (Profile, error) {
	if !p.Persisted() {
		return Profile{}, fmt.Errorf("save profile %d: %w", p.ExternalID, ErrNotFound)
	}

	r, err := toRow(p)
	if err != nil {
		return Profile{}, fmt.Errorf("save profile %d: %w", p.ExternalID, err)
	}

	update := s.q(`UPDATE users
		SET name = ?, interests = ?, goals = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND external_id = ?`)
	res, err := s.db.ExecContext(ctx, update, r.name, r.interests, r.goals, r.id, r.externalID)
	if err != nil {
		return Profile{}, fmt.Errorf("save profile %d: %w", p.ExternalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Profile{}, fmt.Errorf("save profile %d: %w", p.ExternalID, ErrNotFound)
	}
	return s.Get(ctx, p.ExternalID)
}

// List returns all profiles ordered by ID.
func (s *SQLStore) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

// ---------- Row mapping ----------

// row is the storage shape of a Profile. Sequences are JSON-encoded text so
// the same schema works on PostgreSQL and SQLite.
type row struct {
	id         int64
	externalID int64
	name       string
	interests  string
	goals      string
	createdAt  time.Time
	updatedAt  time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (Profile, error) {
	var r row
	if err := sc.Scan(&r.id, &r.externalID, &r.name, &r.interests, &r.goals, &r.createdAt, &r.updatedAt); err != nil {
		return Profile{}, err
	}
	return fromRow(r)
}

func toRow(p Profile) (row, error) {
	interests, err := encodeSeq(p.Interests)
	if err != nil {
		return row{}, fmt.Errorf("encode interests: %w", err)
	}
	goals, err := encodeSeq(p.Goals)
	if err != nil {
		return row{}, fmt.Errorf("encode goals: %w", err)
	}
	return row{
		id:         p.ID,
		externalID: p.ExternalID,
		name:       p.DisplayName,
		interests:  interests,
		goals:      goals,
		createdAt:  p.CreatedAt,
		updatedAt:  p.UpdatedAt,
	}, nil
}

func fromRow(r row) (Profile, error) {
	interests, err := decodeSeq(r.interests)
	if err != nil {
		return Profile{}, fmt.Errorf("decode interests of profile %d: %w", r.id, err)
	}
	goals, err := decodeSeq(r.goals)
	if err != nil {
		return Profile{}, fmt.Errorf("decode goals of profile %d: %w", r.id, err)
	}
	return Profile{
		ID:          r.id,
		ExternalID:  r.externalID,
		DisplayName: r.name,
		Interests:   interests,
		Goals:       goals,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}, nil
}

func encodeSeq(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSeq(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
