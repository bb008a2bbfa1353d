// Package lifecycle owns the item status state machine, independent of money.
// Active items may move to found, claimed, or deleted; each of those is
// terminal for its branch. The escrow coordinator layers funding checks on
// top of these transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finditapp/findit-server/models"
)

var (
	// ErrItemNotFound indicates the item does not exist or the caller may
	// not see it. Ownership failures fold into this error so the API does
	// not leak row existence.
	ErrItemNotFound = errors.New("lifecycle: item not found")
	// ErrInvalidTransition is returned for a transition the state machine
	// forbids, such as reporting an already-claimed item.
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")
)

var allowedTransitions = map[models.ItemStatus][]models.ItemStatus{
	models.ItemActive: {models.ItemFound, models.ItemClaimed, models.ItemDeleted},
}

// ValidateTransition ensures the move follows the defined state machine.
func ValidateTransition(current, next models.ItemStatus) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: no transitions allowed from %s", ErrInvalidTransition, current)
	}
	for _, state := range allowed {
		if state == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// Manager applies lifecycle transitions with per-item serialization.
type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

// NewManager constructs a manager backed by the provided database.
func NewManager(db *gorm.DB, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{db: db, now: now}
}

// Report records a finder's claim and flips the item status accordingly. Any
// authenticated user may report; there is deliberately no self-report check
// (the owner confirming their own recovery is a supported path). The created
// Report binds the reporter identity that a later payout must name.
func (m *Manager) Report(ctx context.Context, itemID, reporterID uuid.UUID, action models.ReportAction, message string) (*models.Report, error) {
	next, err := statusForAction(action)
	if err != nil {
		return nil, err
	}
	var report models.Report
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if item.Status == models.ItemDeleted {
			return ErrItemNotFound
		}
		if err := ValidateTransition(item.Status, next); err != nil {
			return err
		}
		now := m.now()
		report = models.Report{
			ID:         uuid.New(),
			ItemID:     item.ID,
			ReporterID: reporterID,
			Action:     action,
			Message:    strings.TrimSpace(message),
			CreatedAt:  now,
		}
		if err := tx.Create(&report).Error; err != nil {
			return err
		}
		item.Status = next
		item.UpdatedAt = now
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return appendEvent(tx, &item.ID, reporterID, "item."+string(next), report.Message, now)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Delete soft-deletes an item. Only the owner may delete, and only from the
// active state; ownership failures surface as not-found.
func (m *Manager) Delete(ctx context.Context, itemID, callerID uuid.UUID) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if item.OwnerID != callerID || item.Status == models.ItemDeleted {
			return ErrItemNotFound
		}
		if err := ValidateTransition(item.Status, models.ItemDeleted); err != nil {
			return err
		}
		now := m.now()
		item.Status = models.ItemDeleted
		item.UpdatedAt = now
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return appendEvent(tx, &item.ID, callerID, "item.deleted", "", now)
	})
}

// LatestReporter returns who most recently reported the item, if anyone did.
func (m *Manager) LatestReporter(ctx context.Context, itemID uuid.UUID) (uuid.UUID, error) {
	var report models.Report
	err := m.db.WithContext(ctx).Where("item_id = ?", itemID).Order("created_at DESC").First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return report.ReporterID, nil
}

func statusForAction(action models.ReportAction) (models.ItemStatus, error) {
	switch action {
	case models.ReportFound:
		return models.ItemFound, nil
	case models.ReportClaimed:
		return models.ItemClaimed, nil
	default:
		return "", fmt.Errorf("%w: unknown report action %q", ErrInvalidTransition, action)
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
