package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ItemType distinguishes the three posting kinds.
type ItemType string

// Supported item types.
const (
	TypeLost   ItemType = "lost"
	TypeFound  ItemType = "found"
	TypeBounty ItemType = "bounty"
)

// ItemStatus represents a state in the item lifecycle.
type ItemStatus string

// Item lifecycle states. Everything after active is terminal.
const (
	ItemActive  ItemStatus = "active"
	ItemFound   ItemStatus = "found"
	ItemClaimed ItemStatus = "claimed"
	ItemDeleted ItemStatus = "deleted"
)

// MoneyStatus tracks funding and payout progress on an item.
type MoneyStatus string

// Funding/payout states. Each moves pending -> paid exactly once.
const (
	MoneyPending MoneyStatus = "pending"
	MoneyPaid    MoneyStatus = "paid"
)

// PaymentStatus represents the settlement state of a charge or transfer.
type PaymentStatus string

// Settlement states shared by Payment and Payout rows.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// ReportAction is the claim a finder makes about an item.
type ReportAction string

// Report actions.
const (
	ReportFound   ReportAction = "found"
	ReportClaimed ReportAction = "claimed"
)

// User stores account data for item owners and finders. Credentials and
// sessions live in the identity service; this table only carries what the
// marketplace needs.
type User struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email           string    `gorm:"uniqueIndex" json:"email"`
	DisplayName     string    `gorm:"size:128" json:"display_name"`
	StripeAccountID string    `gorm:"size:64" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Payable reports whether the user can receive bounty transfers.
func (u *User) Payable() bool {
	return u.StripeAccountID != ""
}

// Item is a lost/found/bounty posting. Monetary columns are cents.
// RewardCents is set only on bounty items. Items are soft-deleted by moving
// Status to deleted; rows are never removed.
type Item struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID       uuid.UUID   `gorm:"type:uuid;index" json:"owner_id"`
	Title         string      `gorm:"size:100" json:"title"`
	Description   string      `gorm:"size:1000" json:"description"`
	Category      string      `gorm:"size:32;index" json:"category"`
	Type          ItemType    `gorm:"size:16;index" json:"type"`
	Location      string      `gorm:"size:255" json:"location,omitempty"`
	Latitude      *float64    `json:"latitude,omitempty"`
	Longitude     *float64    `json:"longitude,omitempty"`
	RewardCents   *int64      `json:"reward_cents,omitempty"`
	Status        ItemStatus  `gorm:"size:16;index" json:"status"`
	PaymentStatus MoneyStatus `gorm:"size:16" json:"payment_status"`
	PayoutStatus  MoneyStatus `gorm:"size:16" json:"payout_status"`
	PayoutCents   *int64      `json:"payout_cents,omitempty"`
	Priority      bool        `json:"priority"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	Reports []Report `json:"reports,omitempty"`
}

// Reward returns the bounty amount in cents, zero for non-bounty items.
func (i *Item) Reward() int64 {
	if i.RewardCents == nil {
		return 0
	}
	return *i.RewardCents
}

// Payment records funds moved from an owner to the platform for one bounty
// item. IntentID is the processor's charge reference; the unique index is the
// convergence point for the client-confirm and webhook paths.
type Payment struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID     `gorm:"type:uuid;index" json:"user_id"`
	ItemID      uuid.UUID     `gorm:"type:uuid;index" json:"item_id"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	FeeCents    int64         `gorm:"not null" json:"fee_cents"`
	IntentID    string        `gorm:"size:128;uniqueIndex" json:"intent_id"`
	Status      PaymentStatus `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Payout records funds moved from the platform to a finder.
type Payout struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID      uuid.UUID     `gorm:"type:uuid;index" json:"item_id"`
	FinderID    uuid.UUID     `gorm:"type:uuid;index" json:"finder_id"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	TransferID  string        `gorm:"size:128;index" json:"transfer_id"`
	Status      PaymentStatus `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Report is a finder's append-only claim on an item.
type Report struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID     uuid.UUID    `gorm:"type:uuid;index" json:"item_id"`
	ReporterID uuid.UUID    `gorm:"type:uuid;index" json:"reporter_id"`
	Action     ReportAction `gorm:"size:16" json:"action"`
	Message    string       `gorm:"size:512" json:"message,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Notification is an in-app message persisted for a user.
type Notification struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RecipientID uuid.UUID  `gorm:"type:uuid;index" json:"recipient_id"`
	Type        string     `gorm:"size:32;index" json:"type"`
	Title       string     `gorm:"size:128" json:"title"`
	Body        string     `gorm:"size:1024" json:"body"`
	ItemID      *uuid.UUID `gorm:"type:uuid;index" json:"item_id,omitempty"`
	Read        bool       `gorm:"index" json:"read"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Event is the audit trail. Rows are appended in the same transaction as the
// state change they describe so support tooling sees a consistent history.
type Event struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ItemID    *uuid.UUID `gorm:"type:uuid;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;index"`
	Action    string     `gorm:"size:64"`
	Details   string     `gorm:"type:text"`
	CreatedAt time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Item{},
		&Payment{},
		&Payout{},
		&Report{},
		&Notification{},
		&Event{},
		&IdempotencyKey{},
	)
}
