package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailbridge/mailbridge/internal/platform"
)

// ReminderJob is one queued reminder delivery.
type ReminderJob struct {
	ID             string
	EmailAccountID string
	Provider       platform.Type
	TeamID         string
	ThreadID       string
	EnqueuedAt     time.Time
}

// OutboxStore queues reminder deliveries for the dispatch worker.
type OutboxStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOutboxStore creates a reminder outbox store.
func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	if log == nil {
		log = slog.Default()
	}
	return &OutboxStore{
		pool:   pool,
		logger: log.With(slog.String("store", "outbox")),
	}
}

// Enqueue appends one reminder job.
func (s *OutboxStore) Enqueue(ctx context.Context, job ReminderJob) error {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminder_outbox (id, email_account_id, provider, team_id, thread_id)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		id, job.EmailAccountID, string(job.Provider), job.TeamID, job.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("enqueue reminder: %w", err)
	}
	return nil
}

// DequeuePending claims up to limit unsent jobs, oldest first. Claimed jobs
// are marked sent in the same statement so concurrent workers never double
// deliver.
func (s *OutboxStore) DequeuePending(ctx context.Context, limit int) ([]ReminderJob, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE reminder_outbox
		 SET sent_at = now()
		 WHERE id IN (
		   SELECT id FROM reminder_outbox
		   WHERE sent_at IS NULL
		   ORDER BY enqueued_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, email_account_id, provider, team_id, COALESCE(thread_id, ''), enqueued_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue reminders: %w", err)
	}
	defer rows.Close()

	var jobs []ReminderJob
	for rows.Next() {
		var (
			job      ReminderJob
			provider string
		)
		if err := rows.Scan(&job.ID, &job.EmailAccountID, &provider, &job.TeamID, &job.ThreadID, &job.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan reminder job: %w", err)
		}
		job.Provider = platform.Type(provider)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder jobs: %w", err)
	}
	return jobs, nil
}
