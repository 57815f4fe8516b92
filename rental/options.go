package rental

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/rent-billing/locker"
)

// Locker serializes work on a key across goroutines or processes.
// The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Options configures the billing services. Zero values get defaults.
type Options struct {
	Currency string
	// DueDays is added to the issue date when no due date is given.
	DueDays int
	// PreviewIncludesBalance folds the balance snapshot into previews
	// unless the request says otherwise.
	PreviewIncludesBalance bool
	// SequenceRetries bounds retries after an invoice number conflict.
	SequenceRetries int

	Locker Locker
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

// DefaultOptions matches the config defaults.
func DefaultOptions() Options {
	return Options{
		Currency:               DefaultCurrency,
		DueDays:                7,
		PreviewIncludesBalance: true,
		SequenceRetries:        3,
	}
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
	if o.DueDays < 0 {
		o.DueDays = 0
	}
	if o.SequenceRetries < 0 {
		o.SequenceRetries = 0
	}
	if o.Locker == nil {
		o.Locker = locker.NewMemory()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	return o
}
