package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
)

// TemplateStore supplies read-only templates to the queue. The template
// editing surface lives outside this service.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// GetTemplate returns a template by ID, or nil if it does not exist.
func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var tpl domain.Template
	err := s.pool.QueryRow(ctx, `
		SELECT id, subject, content, variables, created_at FROM templates WHERE id = $1
	`, id).Scan(&tpl.ID, &tpl.Subject, &tpl.Content, &tpl.Variables, &tpl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return &tpl, nil
}

// UpsertTemplate writes a template. Used by the seeding path; the queue
// itself only reads.
func (s *PostgresStore) UpsertTemplate(ctx context.Context, tpl *domain.Template) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (id, subject, content, variables, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET subject = $2, content = $3, variables = $4
	`, tpl.ID, tpl.Subject, tpl.Content, tpl.Variables, tpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting template: %w", err)
	}
	return nil
}

// MemoryTemplateStore holds templates in memory for tests and standalone mode.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*domain.Template)}
}

func (s *MemoryTemplateStore) Put(tpl *domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *tpl
	s.templates[tpl.ID] = &clone
}

func (s *MemoryTemplateStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	clone := *tpl
	return &clone, nil
}
