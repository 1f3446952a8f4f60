// Package migration upgrades a user's cached and remote records to the
// current shape exactly once per user.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/MarcoPoloResearchLab/remindful/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Name identifies the remindAt and sort option migration in the ledger.
	Name = "2024-06-01_remind_at_and_sort_option"
	// BatchSize bounds the item patches committed together.
	BatchSize = 400
)

const (
	stepCacheItems        = "cache_items"
	stepCachePreferences  = "cache_preferences"
	stepRemoteItems       = "remote_items"
	stepRemotePreferences = "remote_preferences"
)

var (
	errMissingRemote = errors.New("migration: remote adapter is required")
	errMissingCache  = errors.New("migration: cache views are required")
	errMissingFlags  = errors.New("migration: flag store is required")
)

// StepError reports a failed migration step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config describes the Runner dependencies.
type Config struct {
	Remote      *remote.Adapter
	Items       *cache.Collection[reminders.Item]
	Preferences *cache.Value[reminders.Preferences]
	Flags       Flags
	Logger      *zap.Logger
}

// Runner executes the migration.
type Runner struct {
	remote      *remote.Adapter
	items       *cache.Collection[reminders.Item]
	preferences *cache.Value[reminders.Preferences]
	flags       Flags
	logger      *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Items == nil || cfg.Preferences == nil {
		return nil, errMissingCache
	}
	if cfg.Flags == nil {
		return nil, errMissingFlags
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		remote:      cfg.Remote,
		items:       cfg.Items,
		preferences: cfg.Preferences,
		flags:       cfg.Flags,
		logger:      logger,
	}, nil
}

// Run migrates userID. Steps run in order and a failed step does not stop the
// following ones; the completion flag is written only when every step
// succeeded, so an incomplete run is repeated on the next call.
func (r *Runner) Run(ctx context.Context, userID string) error {
	done, err := r.flags.IsDone(ctx, userID, Name)
	if err != nil {
		r.logger.Warn("migration flag unreadable", zap.String("user_id", userID), zap.Error(err))
	}
	if done {
		return nil
	}

	steps := []struct {
		name  string
		apply func(context.Context, string) error
	}{
		{name: stepCacheItems, apply: r.rewriteCachedItems},
		{name: stepCachePreferences, apply: r.rewriteCachedPreferences},
		{name: stepRemoteItems, apply: r.backfillRemoteItems},
		{name: stepRemotePreferences, apply: r.normalizeRemotePreferences},
	}

	var failures []error
	for _, step := range steps {
		if err := step.apply(ctx, userID); err != nil {
			r.logError(step.name, userID, err)
			failures = append(failures, &StepError{Step: step.name, Err: err})
		}
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	if err := r.flags.MarkDone(ctx, userID, Name); err != nil {
		r.logError("mark_done", userID, err)
		return err
	}
	r.logger.Info("migration applied", zap.String("user_id", userID), zap.String("migration", Name))
	return nil
}

func (r *Runner) rewriteCachedItems(ctx context.Context, userID string) error {
	items, found := r.items.Get(ctx, userID)
	if !found {
		return nil
	}
	return r.items.Set(ctx, userID, items)
}

func (r *Runner) rewriteCachedPreferences(ctx context.Context, userID string) error {
	preferences, found := r.preferences.Get(ctx, userID)
	if !found {
		return nil
	}
	canonical, _ := reminders.NormalizeSortOption(string(preferences.ItemSortOption))
	return r.preferences.Set(ctx, userID, reminders.Preferences{ItemSortOption: canonical})
}

func (r *Runner) backfillRemoteItems(ctx context.Context, userID string) error {
	docs, err := r.remote.ListLegacyItems(ctx, userID)
	if err != nil {
		return err
	}

	patches := make([]remote.ItemPatch, 0, len(docs))
	for _, doc := range docs {
		remindAt, err := reminders.TimestampFromValue(doc.Data[reminders.FieldLegacyDate])
		if err != nil {
			r.logger.Warn("legacy item date unreadable",
				zap.String("user_id", userID),
				zap.String("item_id", doc.ID),
				zap.Error(err))
			continue
		}
		patches = append(patches, remote.ItemPatch{
			ItemID: doc.ID,
			Fields: map[string]any{reminders.FieldRemindAt: remindAt.Map()},
		})
	}

	var group errgroup.Group
	for start := 0; start < len(patches); start += BatchSize {
		end := min(start+BatchSize, len(patches))
		batch := patches[start:end]
		group.Go(func() error {
			return r.remote.CommitItemPatches(ctx, userID, batch)
		})
	}
	return group.Wait()
}

func (r *Runner) normalizeRemotePreferences(ctx context.Context, userID string) error {
	preferences, found, err := r.remote.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	canonical, _ := reminders.NormalizeSortOption(string(preferences.ItemSortOption))
	if canonical == preferences.ItemSortOption {
		return nil
	}
	return r.remote.SavePreferences(ctx, userID, reminders.Preferences{ItemSortOption: canonical})
}

func (r *Runner) logError(step, userID string, err error) {
	if err == nil {
		return
	}
	r.logger.Error("migration step failed",
		zap.String("migration", Name),
		zap.String("step", step),
		zap.String("user_id", userID),
		zap.Error(err))
}
