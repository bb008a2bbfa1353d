// Package escrow owns the bounty money lifecycle. The Coordinator is the
// single authority permitted to transition Payment and Payout status and to
// authorize fund movement; HTTP handlers and webhook consumers both funnel
// through it.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/notify"
	"github.com/finditapp/findit-server/observability"
	"github.com/finditapp/findit-server/stripe"
)

var (
	// ErrItemNotFound indicates the bounty item does not exist, is not a
	// fundable bounty, or the caller may not act on it. Ownership failures
	// fold into this error so the API does not leak row existence.
	ErrItemNotFound = errors.New("escrow: bounty item not found")
	// ErrPaymentNotFound indicates no Payment row matches the charge reference.
	ErrPaymentNotFound = errors.New("escrow: payment not found")
	// ErrAmountMismatch is returned when the submitted amount disagrees with
	// the item's recorded reward. Never silently coerced.
	ErrAmountMismatch = errors.New("escrow: payment amount does not match bounty reward")
	// ErrInvalidState is returned when the operation is attempted from a
	// state that forbids it, such as paying out an unfunded item.
	ErrInvalidState = errors.New("escrow: invalid state for operation")
	// ErrFinderNotPayable indicates the named finder has no payout account
	// on file.
	ErrFinderNotPayable = errors.New("escrow: finder has not set up a payout account")
	// ErrFinderMismatch indicates the payout names a party other than the
	// one who reported the item.
	ErrFinderMismatch = errors.New("escrow: finder does not match the item report")
)

// Coordinator orchestrates the bounty state machine across the ledger and the
// payment processor.
type Coordinator struct {
	db       *gorm.DB
	gateway  stripe.Client
	fees     FeeSchedule
	notifier notify.Dispatcher
	metrics  *observability.EscrowMetrics
	log      *slog.Logger
	now      func() time.Time
}

// Config captures the dependencies required to construct a Coordinator.
type Config struct {
	DB       *gorm.DB
	Gateway  stripe.Client
	Fees     FeeSchedule
	Notifier notify.Dispatcher
	Logger   *slog.Logger
	Now      func() time.Time
}

// New constructs a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.DB == nil {
		panic("escrow: database required")
	}
	if cfg.Gateway == nil {
		panic("escrow: payment gateway required")
	}
	if cfg.Fees.PlatformBps == 0 {
		cfg.Fees = DefaultFeeSchedule()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		db:       cfg.DB,
		gateway:  cfg.Gateway,
		fees:     cfg.Fees,
		notifier: cfg.Notifier,
		metrics:  observability.Escrow(),
		log:      cfg.Logger,
		now:      cfg.Now,
	}
}

// PaymentHandle is returned to the client so it can complete the charge
// on-device.
type PaymentHandle struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	IntentID     string    `json:"intent_id"`
	ClientSecret string    `json:"client_secret"`
	AmountCents  int64     `json:"amount_cents"`
	FeeCents     int64     `json:"fee_cents"`
}

// InitiatePayment starts funding a bounty. The amount must equal the item's
// recorded reward; the check runs before any external call so a tampering
// client never reaches the processor. The item stays unfunded until a
// confirmation arrives.
func (c *Coordinator) InitiatePayment(ctx context.Context, itemID, payerID uuid.UUID, amountCents int64) (*PaymentHandle, error) {
	var item models.Item
	err := c.db.WithContext(ctx).
		First(&item, "id = ? AND type = ? AND status = ?", itemID, models.TypeBounty, models.ItemActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if item.PaymentStatus == models.MoneyPaid {
		return nil, fmt.Errorf("%w: bounty already funded", ErrInvalidState)
	}
	if amountCents != item.Reward() {
		return nil, ErrAmountMismatch
	}

	fee := c.fees.Fee(amountCents)
	intent, err := c.gateway.CreatePaymentIntent(ctx, stripe.CreateIntentParams{
		AmountCents: amountCents,
		FeeCents:    fee,
		Metadata: map[string]string{
			"item_id": item.ID.String(),
			"user_id": payerID.String(),
		},
	})
	if err != nil {
		c.metrics.RecordPayment("gateway_error")
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	now := c.now()
	payment := models.Payment{
		ID:          uuid.New(),
		UserID:      payerID,
		ItemID:      item.ID,
		AmountCents: amountCents,
		FeeCents:    fee,
		IntentID:    intent.ID,
		Status:      models.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}
	c.metrics.RecordPayment("initiated")
	return &PaymentHandle{
		PaymentID:    payment.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amountCents,
		FeeCents:     fee,
	}, nil
}

// ConfirmPayment applies a settlement outcome for a charge. It is the single
// entry point for both the client confirmation call and the processor
// webhook, and it is idempotent: confirming an already-completed payment is a
// no-op success, and a late failure event never downgrades a completed
// payment. The first successful confirmation flips the item to funded.
func (c *Coordinator) ConfirmPayment(ctx context.Context, intentID string, succeeded bool) (*models.Payment, error) {
	var payment models.Payment
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&payment, "intent_id = ?", intentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if !succeeded {
			// Completed is sticky: only a pending payment may fail.
			res := tx.Model(&models.Payment{}).
				Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
				Updates(map[string]interface{}{"status": models.PaymentFailed, "updated_at": c.now()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				c.metrics.RecordPayment("stale_failure")
				c.log.Warn("ignoring failure event for settled payment", "intent_id", intentID)
				return nil
			}
			payment.Status = models.PaymentFailed
			c.metrics.RecordPayment("failed")
			return appendEvent(tx, &payment.ItemID, payment.UserID, "payment.failed", intentID, c.now())
		}

		if payment.Status == models.PaymentCompleted {
			c.metrics.RecordPayment("duplicate_confirm")
			return nil
		}
		if payment.Status == models.PaymentFailed {
			return fmt.Errorf("%w: payment already failed", ErrInvalidState)
		}

		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "id = ?", payment.ItemID).Error; err != nil {
			return err
		}
		now := c.now()
		// At most one payment per item ever completes: the winner is
		// whoever flips the item in this conditional update.
		res := tx.Model(&models.Item{}).
			Where("id = ? AND payment_status = ?", item.ID, models.MoneyPending).
			Updates(map[string]interface{}{"payment_status": models.MoneyPaid, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: bounty already funded by another payment", ErrInvalidState)
		}
		res = tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
			Updates(map[string]interface{}{"status": models.PaymentCompleted, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: payment no longer pending", ErrInvalidState)
		}
		payment.Status = models.PaymentCompleted
		c.metrics.RecordPayment("completed")
		return appendEvent(tx, &item.ID, payment.UserID, "payment.completed", intentID, now)
	})
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		c.sendNotification(ctx, notify.Message{
			RecipientID: payment.UserID,
			Type:        notify.TypeBountyFunded,
			Title:       "Bounty funded",
			Body:        fmt.Sprintf("Your bounty is funded and live. Amount: %s.", formatCents(payment.AmountCents)),
			ItemID:      &payment.ItemID,
		})
	}
	return &payment, nil
}

// InitiatePayout releases escrowed funds to a finder. All preconditions are
// enforced before any external call: the caller owns the item, the item was
// reported found or claimed while funded, the payout has not already run, the
// named finder matches the report, and the finder has a payable account.
// Exactly one of two concurrent attempts can claim the pending Payout row;
// the loser fails with ErrInvalidState and no second transfer occurs.
func (c *Coordinator) InitiatePayout(ctx context.Context, itemID, callerID, finderID uuid.UUID) (*models.Payout, error) {
	var (
		payout models.Payout
		finder models.User
	)
	claim := func(tx *gorm.DB) error {
		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, "id = ? AND type = ?", itemID, models.TypeBounty).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if item.OwnerID != callerID || item.Status == models.ItemDeleted {
			return ErrItemNotFound
		}
		if item.Status != models.ItemFound && item.Status != models.ItemClaimed {
			return fmt.Errorf("%w: item has not been reported found", ErrInvalidState)
		}
		if item.PaymentStatus != models.MoneyPaid {
			return fmt.Errorf("%w: bounty is not funded", ErrInvalidState)
		}
		if item.PayoutStatus == models.MoneyPaid {
			return fmt.Errorf("%w: bounty already paid out", ErrInvalidState)
		}

		var inFlight int64
		if err := tx.Model(&models.Payout{}).
			Where("item_id = ? AND status IN ?", item.ID, []models.PaymentStatus{models.PaymentPending, models.PaymentCompleted}).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return fmt.Errorf("%w: payout already in progress", ErrInvalidState)
		}

		var report models.Report
		if err := tx.Where("item_id = ?", item.ID).Order("created_at DESC").First(&report).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no report on file", ErrInvalidState)
			}
			return err
		}
		if report.ReporterID != finderID {
			return ErrFinderMismatch
		}

		if err := tx.First(&finder, "id = ?", finderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if !finder.Payable() {
			return ErrFinderNotPayable
		}

		now := c.now()
		payout = models.Payout{
			ID:          uuid.New(),
			ItemID:      item.ID,
			FinderID:    finderID,
			AmountCents: c.fees.FinderShare(item.Reward()),
			Status:      models.PaymentPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&payout).Error; err != nil {
			return err
		}
		return appendEvent(tx, &item.ID, callerID, "payout.initiated", finderID.String(), now)
	}
	if err := c.db.WithContext(ctx).Transaction(claim); err != nil {
		return nil, err
	}

	transferCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	transfer, err := c.gateway.CreateTransfer(transferCtx, stripe.TransferParams{
		AmountCents: payout.AmountCents,
		Destination: finder.StripeAccountID,
		Metadata: map[string]string{
			"item_id":   payout.ItemID.String(),
			"finder_id": finderID.String(),
		},
	})
	if err != nil {
		c.metrics.RecordPayout("failed")
		if markErr := c.markPayoutFailed(ctx, payout.ID, callerID); markErr != nil {
			c.log.Error("failed to record payout failure", "payout_id", payout.ID.String(), "error", markErr)
		}
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		res := tx.Model(&models.Payout{}).
			Where("id = ? AND status = ?", payout.ID, models.PaymentPending).
			Updates(map[string]interface{}{
				"status":      models.PaymentCompleted,
				"transfer_id": transfer.ID,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: payout no longer pending", ErrInvalidState)
		}
		res = tx.Model(&models.Item{}).
			Where("id = ? AND payout_status = ?", payout.ItemID, models.MoneyPending).
			Updates(map[string]interface{}{
				"payout_status": models.MoneyPaid,
				"payout_cents":  payout.AmountCents,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: item payout already recorded", ErrInvalidState)
		}
		payout.Status = models.PaymentCompleted
		payout.TransferID = transfer.ID
		return appendEvent(tx, &payout.ItemID, callerID, "payout.completed", transfer.ID, now)
	})
	if err != nil {
		// Funds moved but the ledger write failed; the row stays pending
		// with no transfer reference and needs support reconciliation.
		c.log.Error("transfer succeeded but ledger update failed",
			"payout_id", payout.ID.String(), "transfer_id", transfer.ID, "error", err)
		return nil, err
	}
	c.metrics.RecordPayout("completed")
	c.sendNotification(ctx, notify.Message{
		RecipientID: finderID,
		Type:        notify.TypePayoutSent,
		Title:       "Bounty payout sent",
		Body:        fmt.Sprintf("You received %s for returning a found item.", formatCents(payout.AmountCents)),
		ItemID:      &payout.ItemID,
	})
	return &payout, nil
}

// FailPayout marks a pending payout failed in response to a processor
// transfer.failed event. Completed payouts are sticky; a stale failure for a
// settled transfer is logged for support review instead.
func (c *Coordinator) FailPayout(ctx context.Context, transferID string) error {
	res := c.db.WithContext(ctx).Model(&models.Payout{}).
		Where("transfer_id = ? AND status = ?", transferID, models.PaymentPending).
		Updates(map[string]interface{}{"status": models.PaymentFailed, "updated_at": c.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.log.Warn("transfer failure event did not match a pending payout", "transfer_id", transferID)
	}
	return nil
}

// HistoryEntry is one row of a user's payment history.
type HistoryEntry struct {
	models.Payment
	ItemTitle string          `json:"item_title"`
	ItemType  models.ItemType `json:"item_type"`
}

// History returns the caller's payments, newest first.
func (c *Coordinator) History(ctx context.Context, userID uuid.UUID, page, limit int) ([]HistoryEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var total int64
	if err := c.db.WithContext(ctx).Model(&models.Payment{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []HistoryEntry
	err := c.db.WithContext(ctx).Model(&models.Payment{}).
		Select("payments.*, items.title AS item_title, items.type AS item_type").
		Joins("LEFT JOIN items ON items.id = payments.item_id").
		Where("payments.user_id = ?", userID).
		Order("payments.created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Scan(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (c *Coordinator) markPayoutFailed(ctx context.Context, payoutID, actorID uuid.UUID) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		res := tx.Model(&models.Payout{}).
			Where("id = ? AND status = ?", payoutID, models.PaymentPending).
			Updates(map[string]interface{}{"status": models.PaymentFailed, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		var payout models.Payout
		if err := tx.First(&payout, "id = ?", payoutID).Error; err != nil {
			return err
		}
		return appendEvent(tx, &payout.ItemID, actorID, "payout.failed", "", now)
	})
}

func (c *Coordinator) sendNotification(ctx context.Context, msg notify.Message) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.log.Warn("failed to record notification", "recipient", msg.RecipientID.String(), "error", err)
	}
}

func appendEvent(tx *gorm.DB, itemID *uuid.UUID, actor uuid.UUID, action, details string, at time.Time) error {
	event := models.Event{
		ID:        uuid.New(),
		ItemID:    itemID,
		ActorID:   actor,
		Action:    action,
		Details:   details,
		CreatedAt: at,
	}
	return tx.Create(&event).Error
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
