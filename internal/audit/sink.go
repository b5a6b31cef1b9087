// Package audit decouples dispatch from audit persistence: entries go through
// a buffered channel so appending never blocks a worker.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/google/uuid"
)

// Appender persists one audit entry. *store.PostgresStore and
// *store.MemoryAuditLog both satisfy this.
type Appender interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
}

// Sink is the fire-and-forget audit writer. Append enqueues; a background
// goroutine drains to the Appender. When the buffer is full the entry is
// dropped with a warning rather than stalling dispatch.
type Sink struct {
	appender Appender
	logger   *slog.Logger
	entries  chan domain.AuditEntry
	wg       sync.WaitGroup
}

func NewSink(appender Appender, logger *slog.Logger) *Sink {
	return &Sink{
		appender: appender,
		logger:   logger,
		entries:  make(chan domain.AuditEntry, 256),
	}
}

// Start launches the drain goroutine. It runs until Stop closes the channel,
// finishing any buffered entries first.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for entry := range s.entries {
			if err := s.appender.AppendAudit(ctx, &entry); err != nil {
				s.logger.Error("failed to append audit entry",
					"error", err,
					"job_id", entry.JobID,
					"action", entry.Action,
				)
			}
		}
	}()
}

// Stop drains the buffer and waits for the writer to finish.
func (s *Sink) Stop() {
	close(s.entries)
	s.wg.Wait()
}

// Append records one terminal outcome. Never blocks.
func (s *Sink) Append(entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case s.entries <- entry:
	default:
		s.logger.Warn("audit buffer full, dropping entry", "job_id", entry.JobID, "action", entry.Action)
	}
}
