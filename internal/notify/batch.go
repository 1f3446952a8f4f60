// Package notify delivers due reminder notifications across all users and
// schedules each item's next notification.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"go.uber.org/zap"
)

var (
	errMissingDueLister = errors.New("notify: due lister is required")
	errMissingStore     = errors.New("notify: document store is required")
	errMissingSender    = errors.New("notify: sender is required")
)

// Report summarizes one batch run.
type Report struct {
	Sent    int
	Skipped int
	Failed  int
}

// BatchConfig describes the batch collaborators.
type BatchConfig struct {
	Due    documents.DueLister
	Store  documents.Store
	Sender Sender
	Clock  func() time.Time
	Logger *zap.Logger
}

// Batch scans due items and sends their notifications.
type Batch struct {
	due    documents.DueLister
	store  documents.Store
	sender Sender
	clock  func() time.Time
	logger *zap.Logger
}

// NewBatch validates the configuration and constructs a Batch.
func NewBatch(cfg BatchConfig) (*Batch, error) {
	if cfg.Due == nil {
		return nil, errMissingDueLister
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{due: cfg.Due, store: cfg.Store, sender: cfg.Sender, clock: clock, logger: logger}, nil
}

// Run performs a single pass. Only the due scan itself can fail the run; a
// user or item that cannot be processed is logged and counted.
func (b *Batch) Run(ctx context.Context) (Report, error) {
	now := b.clock().UTC()
	due, err := b.due.ListDue(ctx, reminders.CollectionItems, now)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for start := 0; start < len(due); {
		end := start
		for end < len(due) && due[end].UserID == due[start].UserID {
			end++
		}
		b.runUser(ctx, due[start].UserID, due[start:end], now, &report)
		start = end
	}
	b.logger.Info("notification batch finished",
		zap.Int("due", len(due)),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// RunEvery runs the batch immediately and then on every tick until ctx ends.
func (b *Batch) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := b.Run(ctx); err != nil {
			b.logger.Error("notification batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Batch) runUser(ctx context.Context, userID string, due []documents.UserDocument, now time.Time, report *Report) {
	profile, found, err := b.store.Get(ctx, userID, reminders.CollectionProfile, reminders.ProfileDocumentID)
	if err != nil {
		b.logger.Error("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		report.Failed += len(due)
		return
	}
	token := ""
	if found {
		token, _ = profile.Data[reminders.FieldPushToken].(string)
	}

	for _, entry := range due {
		item, err := reminders.ItemFromFields(entry.Document.ID, entry.Document.Data)
		if err != nil || item.NextNotifyAt == nil {
			b.logger.Warn("undecodable due item", zap.String("user_id", userID), zap.String("item_id", entry.Document.ID), zap.Error(err))
			report.Failed++
			continue
		}
		if token == "" {
			report.Skipped++
		} else if err := b.sender.Send(ctx, messageFor(token, item)); err != nil {
			b.logger.Warn("push delivery failed", zap.String("user_id", userID), zap.String("item_id", item.ID), zap.Error(err))
			report.Failed++
			continue
		} else {
			report.Sent++
		}

		next := scheduleAfter(item, now)
		_, err = b.store.Set(ctx, userID, documents.Write{
			Collection: reminders.CollectionItems,
			DocID:      item.ID,
			Data:       map[string]any{reminders.FieldNextNotifyAt: next.Map()},
			Merge:      true,
		})
		if err != nil {
			b.logger.Error("next notification update failed", zap.String("user_id", userID), zap.String("item_id", item.ID), zap.Error(err))
		}
	}
}

// scheduleAfter advances the notification one year, catching up when the
// item has been due for longer than that.
func scheduleAfter(item reminders.Item, now time.Time) reminders.Timestamp {
	next := reminders.AdvanceYear(*item.NextNotifyAt)
	if next.Time().After(now) {
		return next
	}
	return reminders.NextNotification(item.RemindAt, item.NotifyTiming, now)
}

func messageFor(token string, item reminders.Item) Message {
	body := ""
	switch item.NotifyTiming {
	case reminders.NotifyDayBefore:
		body = "Tomorrow"
	case reminders.NotifyWeekBefore:
		body = "In one week"
	default:
		body = "Today"
	}
	if item.Content != nil && *item.Content != "" {
		body += ": " + *item.Content
	}
	return Message{To: token, Title: item.Title, Body: body, Sound: "default"}
}
