package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/qubelab/qube-monitor/internal/models"
)

// RosterRepository persists the allow-list so a monitor restart mid-lesson
// does not lose the roster.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs a RosterRepository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// EnsureSchema creates the roster table when missing.
func (r *RosterRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS roster (student_id BIGINT PRIMARY KEY, name TEXT NOT NULL)`)
	if err != nil {
		return fmt.Errorf("ensure roster schema: %w", err)
	}
	return nil
}

// Load returns all persisted roster entries ordered by student id.
func (r *RosterRepository) Load(ctx context.Context) ([]models.RosterEntry, error) {
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, `SELECT student_id, name FROM roster ORDER BY student_id`); err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return entries, nil
}

// Replace swaps the stored roster for the given entries in one transaction.
func (r *RosterRepository) Replace(ctx context.Context, entries []models.RosterEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM roster`); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO roster (student_id, name) VALUES ($1, $2)`, entry.StudentID, entry.Name); err != nil {
			return fmt.Errorf("insert roster entry %d: %w", entry.StudentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster replace: %w", err)
	}
	return nil
}
