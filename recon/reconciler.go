// Package recon resolves payments stuck in the pending state. A charge can
// stay pending when the processor call timed out or a webhook never arrived;
// the reconciler asks the processor for the current intent status and feeds
// the answer through the coordinator's idempotent confirmation path.
package recon

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/finditapp/findit-server/escrow"
	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/stripe"
)

// Config configures the payment reconciler.
type Config struct {
	DB          *gorm.DB
	Coordinator *escrow.Coordinator
	Gateway     stripe.Client
	// MinAge is how old a pending payment must be before it is queried.
	// Fresh payments are usually mid-checkout and resolve on their own.
	MinAge time.Duration
	// Interval is the polling cadence.
	Interval time.Duration
	// BatchSize bounds how many payments are examined per run.
	BatchSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Reconciler periodically sweeps stale pending payments.
type Reconciler struct {
	db          *gorm.DB
	coordinator *escrow.Coordinator
	gateway     stripe.Client
	minAge      time.Duration
	interval    time.Duration
	batchSize   int
	log         *slog.Logger
	now         func() time.Time
}

// NewReconciler constructs a reconciler with sane defaults.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: database required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("recon: coordinator required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("recon: gateway required")
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 15 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		db:          cfg.DB,
		coordinator: cfg.Coordinator,
		gateway:     cfg.Gateway,
		minAge:      cfg.MinAge,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		log:         cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// Start begins the polling loop until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved, err := r.Run(ctx)
			if err != nil {
				r.log.Warn("reconciliation run failed", "error", err)
			} else if resolved > 0 {
				r.log.Info("reconciled stale payments", "count", resolved)
			}
		}
	}
}

// Run sweeps one batch of stale pending payments and returns how many were
// moved to a terminal state.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.minAge)
	var stale []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Order("created_at ASC").
		Limit(r.batchSize).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, payment := range stale {
		intent, err := r.gateway.GetPaymentIntent(ctx, payment.IntentID)
		if err != nil {
			if stripe.Retryable(err) {
				r.log.Warn("processor lookup failed, will retry next sweep",
					"intent_id", payment.IntentID, "error", err)
				continue
			}
			// The processor no longer recognises the charge; close it out.
			if _, err := r.coordinator.ConfirmPayment(ctx, payment.IntentID, false); err != nil {
				r.log.Warn("failed to close unknown charge", "intent_id", payment.IntentID, "error", err)
			} else {
				resolved++
			}
			continue
		}
		switch {
		case intent.Succeeded():
			if _, err := r.coordinator.ConfirmPayment(ctx, payment.IntentID, true); err != nil {
				r.log.Warn("failed to confirm reconciled payment", "intent_id", payment.IntentID, "error", err)
				continue
			}
			resolved++
		case terminalIntentStatus(intent.Status):
			if _, err := r.coordinator.ConfirmPayment(ctx, payment.IntentID, false); err != nil {
				r.log.Warn("failed to fail reconciled payment", "intent_id", payment.IntentID, "error", err)
				continue
			}
			resolved++
		default:
			// Still in flight at the processor; leave it pending.
		}
	}
	return resolved, nil
}

func terminalIntentStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "cancelled", "failed":
		return true
	}
	return false
}
