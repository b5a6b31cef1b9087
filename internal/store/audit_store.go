package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/campaignforge/dispatch/internal/domain"
)

// AppendAudit writes one append-only audit entry. Entries are never updated
// or deleted by the queue.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, job_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.JobID, entry.Action, entry.Detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit entries, optionally filtered by job, newest first.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, jobID string, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id, job_id, action, detail, created_at FROM audit_entries`
	args := []interface{}{}
	if jobID != "" {
		query += ` WHERE job_id = $1`
		args = append(args, jobID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Action, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MemoryAuditLog is the in-process audit backend for tests and standalone mode.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) AppendAudit(_ context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (l *MemoryAuditLog) Entries() []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
