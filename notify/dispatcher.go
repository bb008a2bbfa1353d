// Package notify persists in-app notifications and hands them to an external
// delivery channel. Delivery mechanics (email, push) live behind the Sender
// boundary; the service only guarantees the in-app record.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finditapp/findit-server/models"
)

// Message is one notification addressed to a user.
type Message struct {
	RecipientID uuid.UUID
	Type        string
	Title       string
	Body        string
	ItemID      *uuid.UUID
}

// Notification types emitted by the escrow and lifecycle flows.
const (
	TypeBountyFunded  = "bounty_funded"
	TypeItemReported  = "item_reported"
	TypePayoutSent    = "payout_sent"
	TypePaymentFailed = "payment_failed"
)

// Dispatcher accepts notifications for a user.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Sender delivers a message over an external channel such as email.
type Sender func(ctx context.Context, msg Message) error

// StoreDispatcher writes the in-app record and queues external delivery.
type StoreDispatcher struct {
	db    *gorm.DB
	queue *Queue
	now   func() time.Time
}

// NewStoreDispatcher constructs a dispatcher backed by the provided database.
func NewStoreDispatcher(db *gorm.DB, queue *Queue, now func() time.Time) *StoreDispatcher {
	if queue == nil {
		queue = NewQueue()
	}
	if now == nil {
		now = time.Now
	}
	return &StoreDispatcher{db: db, queue: queue, now: now}
}

// Send persists the notification row, then enqueues delivery. The row is the
// source of truth; queue loss only costs the out-of-band copy.
func (d *StoreDispatcher) Send(ctx context.Context, msg Message) error {
	row := models.Notification{
		ID:          uuid.New(),
		RecipientID: msg.RecipientID,
		Type:        msg.Type,
		Title:       msg.Title,
		Body:        msg.Body,
		ItemID:      msg.ItemID,
		CreatedAt:   d.now(),
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	d.queue.Enqueue(msg)
	return nil
}

// Worker drains the queue through a Sender until the context is cancelled.
type Worker struct {
	queue  *Queue
	sender Sender
	log    *slog.Logger
}

// NewWorker constructs a delivery worker.
func NewWorker(queue *Queue, sender Sender, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{queue: queue, sender: sender, log: log}
}

// Run blocks delivering messages. Send failures are logged and dropped; the
// in-app record already exists, so there is nothing further to recover.
func (w *Worker) Run(ctx context.Context) {
	if w.sender == nil {
		<-ctx.Done()
		return
	}
	for {
		msg, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := w.sender(ctx, msg); err != nil {
			w.log.Warn("notification delivery failed",
				"recipient", msg.RecipientID.String(),
				"type", msg.Type,
				"error", err)
		}
	}
}
