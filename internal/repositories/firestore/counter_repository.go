package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/merchkit/api/internal/platform/firestore"
	"github.com/merchkit/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// next computes the value after one increment, preferring the explicit
// step, then the stored step, then 1.
func (d counterDocument) next(step int64) int64 {
	if step <= 0 {
		step = d.Step
	}
	if step <= 0 {
		step = 1
	}
	return d.CurrentValue + step
}

// CounterRepository allocates order number sequences. Increments run in
// their own transaction so an aborted enclosing unit of work cannot cause
// a number to be reused.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository builds the Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next atomically advances the counter and returns the allocated value. A
// missing counter is created on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	now := r.now().UTC()
	var allocated int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			first := counterDocument{}.next(step)
			doc := counterDocument{CurrentValue: first, Step: first, UpdatedAt: now}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			allocated = doc.CurrentValue
			return nil
		}
		if err != nil {
			return err
		}

		var doc counterDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}

		value := doc.next(step)
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}

		doc.Step = value - doc.CurrentValue
		doc.CurrentValue = value
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		allocated = value
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return allocated, nil
}

// Configure merges step, ceiling and start value settings onto a counter.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	settings := map[string]any{"updatedAt": r.now().UTC()}
	if cfg.Step > 0 {
		settings["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		settings["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		settings["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, settings, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
