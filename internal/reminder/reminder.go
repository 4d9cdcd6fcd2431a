// Package reminder fans periodic inbox reminders out to every connected
// channel binding on a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailbridge/mailbridge/internal/store"
)

const runTimeout = 5 * time.Minute

// ChannelLister enumerates the bindings a reminder tick should visit.
type ChannelLister interface {
	ListConnected(ctx context.Context) ([]store.LinkedChannel, error)
}

// Dispatcher delivers one reminder for a channel binding.
type Dispatcher interface {
	DispatchReminder(ctx context.Context, ch store.LinkedChannel) error
}

// Service runs the reminder fan-out on a cron schedule.
type Service struct {
	logger      *slog.Logger
	channels    ChannelLister
	dispatcher  Dispatcher
	schedule    string
	concurrency int
	cron        *cron.Cron
}

// NewService creates the reminder service. schedule is a standard five-field
// cron expression. concurrency bounds in-flight dispatches per tick.
func NewService(log *slog.Logger, channels ChannelLister, dispatcher Dispatcher, schedule string, concurrency int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		logger:      log.With(slog.String("service", "reminder")),
		channels:    channels,
		dispatcher:  dispatcher,
		schedule:    schedule,
		concurrency: concurrency,
	}
}

// Start registers the cron entry and begins ticking.
func (s *Service) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("register reminder schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("reminder schedule started", slog.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for the running tick, if any.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("reminder tick failed", slog.Any("error", err))
	}
}

// RunOnce walks every connected binding and dispatches a reminder to each,
// bounded by the configured concurrency. Per-channel failures are logged and
// do not stop the walk.
func (s *Service) RunOnce(ctx context.Context) error {
	channels, err := s.channels.ListConnected(ctx)
	if err != nil {
		return fmt.Errorf("list channels for reminders: %w", err)
	}
	if len(channels) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, ch := range channels {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(ch store.LinkedChannel) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.dispatcher.DispatchReminder(ctx, ch); err != nil {
				s.logger.Error("reminder dispatch failed",
					slog.String("provider", string(ch.Provider)),
					slog.String("email_account_id", ch.EmailAccountID),
					slog.Any("error", err))
			}
		}(ch)
	}
	wg.Wait()
	return nil
}
