package retention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
)

const (
	kindMessage = "message"
	kindStory   = "story"

	sweepWarn  = "warn"
	sweepPurge = "purge"
)

// Store is the slice of a content repository the scheduler needs.
type Store interface {
	ClaimExpiring(ctx context.Context, cutoff, notifiedAt time.Time, limit int) ([]models.ExpiringItem, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Notifier delivers the pre-expiry warning.
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []int64, text string) int
}

// Scheduler runs the warn and purge sweeps over messages and stories.
type Scheduler struct {
	messages Store
	stories  Store
	notifier Notifier
	cfg      config.Retention
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduler(messages, stories Store, notifier Notifier, cfg config.Retention, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		messages: messages,
		stories:  stories,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WarningText is the push body sent to owners of content about to expire.
func (s *Scheduler) WarningText() string {
	left := s.cfg.MaxAge - s.cfg.WarnAfter
	return fmt.Sprintf("Your content disappears in %s, save it before it's gone!", humanize(left))
}

// Run starts both sweeps on independent tickers and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, sweepWarn, s.cfg.WarnInterval, s.WarnSweep)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, sweepPurge, s.cfg.PurgeInterval, s.PurgeSweep)
	}()
	s.logger.Info("retention scheduler started",
		zap.Duration("warn_after", s.cfg.WarnAfter),
		zap.Duration("max_age", s.cfg.MaxAge),
		zap.Duration("warn_interval", s.cfg.WarnInterval),
		zap.Duration("purge_interval", s.cfg.PurgeInterval),
	)
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context, time.Time) error) {
	if s.cfg.RunOnStart {
		s.runOnce(ctx, name, sweep)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, name, sweep)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, sweep func(context.Context, time.Time) error) {
	now := s.now()
	defer func() {
		if r := recover(); r != nil {
			observability.IncRetentionSweep(name, "panic")
			s.logger.Error("retention sweep panicked", zap.String("sweep", name), zap.Time("at", now), zap.Any("panic", r))
		}
	}()
	if err := sweep(ctx, now); err != nil {
		observability.IncRetentionSweep(name, "error")
		s.logger.Error("retention sweep failed", zap.String("sweep", name), zap.Time("at", now), zap.Error(err))
		return
	}
	observability.IncRetentionSweep(name, "ok")
}

// WarnSweep claims every unwarned item older than WarnAfter and sends one push per distinct
// owner. Items are flagged before the push goes out, so a failure loses a warning rather
// than repeating one.
func (s *Scheduler) WarnSweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.WarnAfter)
	owners := map[int64]struct{}{}

	claimed := map[string]int{}
	for _, src := range []struct {
		kind  string
		store Store
	}{{kindMessage, s.messages}, {kindStory, s.stories}} {
		for {
			items, err := src.store.ClaimExpiring(ctx, cutoff, now, s.cfg.BatchSize)
			if err != nil {
				s.notifyOwners(ctx, owners)
				return fmt.Errorf("claim expiring %s items: %w", src.kind, err)
			}
			claimed[src.kind] += len(items)
			for _, item := range items {
				owners[item.OwnerID] = struct{}{}
			}
			if len(items) < s.cfg.BatchSize {
				break
			}
		}
		observability.AddRetentionItems(sweepWarn, src.kind, claimed[src.kind])
	}

	sent := s.notifyOwners(ctx, owners)
	s.logger.Info("retention warn sweep done",
		zap.Time("cutoff", cutoff),
		zap.Int("messages", claimed[kindMessage]),
		zap.Int("stories", claimed[kindStory]),
		zap.Int("owners", len(owners)),
		zap.Int("notified", sent),
	)
	return nil
}

// notifyOwners sends the warning for items that were already claimed, even when a later
// claim failed; they are flagged and would otherwise never be warned. Owners go out in
// BatchSize chunks under one NotifyTimeout deadline; chunks left when it passes are dropped.
func (s *Scheduler) notifyOwners(ctx context.Context, owners map[int64]struct{}) int {
	if len(owners) == 0 {
		return 0
	}
	ids := make([]int64, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if s.cfg.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		defer cancel()
	}
	text := s.WarningText()
	sent := 0
	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			s.logger.Warn("retention warning deadline reached, skipping remaining owners", zap.Int("skipped", len(ids)-start))
			break
		}
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		sent += s.notifier.NotifyUsers(ctx, ids[start:end], text)
	}
	return sent
}

// PurgeSweep deletes every message and story older than MaxAge in bounded batches.
func (s *Scheduler) PurgeSweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.MaxAge)
	counts := map[string]int64{}
	var firstErr error

	for _, src := range []struct {
		kind  string
		store Store
	}{{kindMessage, s.messages}, {kindStory, s.stories}} {
		for {
			n, err := src.store.DeleteOlderThan(ctx, cutoff, s.cfg.BatchSize)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("purge %s items: %w", src.kind, err)
				}
				break
			}
			counts[src.kind] += n
			if n < int64(s.cfg.BatchSize) {
				break
			}
		}
		observability.AddRetentionItems(sweepPurge, src.kind, int(counts[src.kind]))
	}

	s.logger.Info("retention purge sweep done",
		zap.Time("cutoff", cutoff),
		zap.Int64("messages", counts[kindMessage]),
		zap.Int64("stories", counts[kindStory]),
	)
	return firstErr
}

func humanize(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.Round(time.Minute).String()
}
