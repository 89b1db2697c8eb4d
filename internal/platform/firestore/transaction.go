package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction retries and deadlines.
type TxOption func(*txSettings)

type txSettings struct {
	maxAttempts int
	deadline    time.Duration
}

func defaultTxSettings() txSettings {
	return txSettings{maxAttempts: 5, deadline: 15 * time.Second}
}

// WithTxAttempts caps the commit retries.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.deadline = timeout
		}
	}
}

// RunTransaction executes fn transactionally on client. The context is
// only tightened, never loosened: an inherited deadline shorter than the
// configured timeout wins.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore client is required"))
	case fn == nil:
		return WrapError("transaction", errors.New("transaction function is required"))
	}

	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	if settings.deadline > 0 && !hasTighterDeadline(ctx, settings.deadline) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.deadline)
		defer cancel()
	}

	var txOpts []firestore.TransactionOption
	if settings.maxAttempts > 0 {
		txOpts = append(txOpts, firestore.MaxAttempts(settings.maxAttempts))
	}

	return WrapError("transaction", client.RunTransaction(ctx, fn, txOpts...))
}

func hasTighterDeadline(ctx context.Context, limit time.Duration) bool {
	deadline, ok := ctx.Deadline()
	return ok && time.Until(deadline) <= limit
}
