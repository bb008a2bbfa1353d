package recon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/finditapp/findit-server/escrow"
	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/stripe"
)

type stubGateway struct {
	intents map[string]*stripe.PaymentIntent
	errs    map[string]error
}

func (s *stubGateway) CreatePaymentIntent(ctx context.Context, params stripe.CreateIntentParams) (*stripe.PaymentIntent, error) {
	return nil, fmt.Errorf("not used")
}

func (s *stubGateway) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	if intent, ok := s.intents[id]; ok {
		return intent, nil
	}
	return nil, &stripe.APIError{StatusCode: 404, Code: "resource_missing"}
}

func (s *stubGateway) CreateTransfer(ctx context.Context, params stripe.TransferParams) (*stripe.Transfer, error) {
	return nil, fmt.Errorf("not used")
}

func (s *stubGateway) ConnectAccount(ctx context.Context, params stripe.ConnectParams) (*stripe.ConnectAccount, error) {
	return nil, fmt.Errorf("not used")
}

func (s *stubGateway) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	return nil, fmt.Errorf("not used")
}

func setupReconDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPendingPayment(t *testing.T, db *gorm.DB, intentID string, age time.Duration) models.Item {
	t.Helper()
	reward := int64(10000)
	item := models.Item{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Title:         "Engraved pocket watch",
		Description:   "Silver case with initials A.R. on the back lid.",
		Category:      "jewelry",
		Type:          models.TypeBounty,
		RewardCents:   &reward,
		Status:        models.ItemActive,
		PaymentStatus: models.MoneyPending,
		PayoutStatus:  models.MoneyPending,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}
	payment := models.Payment{
		ID:          uuid.New(),
		UserID:      item.OwnerID,
		ItemID:      item.ID,
		AmountCents: reward,
		FeeCents:    1000,
		IntentID:    intentID,
		Status:      models.PaymentPending,
		CreatedAt:   time.Now().Add(-age),
		UpdatedAt:   time.Now().Add(-age),
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return item
}

func newTestReconciler(t *testing.T, db *gorm.DB, gw stripe.Client) *Reconciler {
	t.Helper()
	coordinator := escrow.New(escrow.Config{DB: db, Gateway: gw})
	r, err := NewReconciler(Config{
		DB:          db,
		Coordinator: coordinator,
		Gateway:     gw,
		MinAge:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return r
}

func paymentStatus(t *testing.T, db *gorm.DB, intentID string) models.PaymentStatus {
	t.Helper()
	var payment models.Payment
	if err := db.First(&payment, "intent_id = ?", intentID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return payment.Status
}

func TestRunConfirmsSucceededIntent(t *testing.T) {
	db := setupReconDB(t)
	item := seedPendingPayment(t, db, "pi_succeeded", time.Hour)
	gw := &stubGateway{intents: map[string]*stripe.PaymentIntent{
		"pi_succeeded": {ID: "pi_succeeded", Status: "succeeded", Amount: 10000},
	}}

	resolved, err := newTestReconciler(t, db, gw).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	if got := paymentStatus(t, db, "pi_succeeded"); got != models.PaymentCompleted {
		t.Fatalf("payment status = %s, want completed", got)
	}
	var reloaded models.Item
	if err := db.First(&reloaded, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if reloaded.PaymentStatus != models.MoneyPaid {
		t.Fatalf("item payment status = %s, want paid", reloaded.PaymentStatus)
	}
}

func TestRunFailsCanceledIntent(t *testing.T) {
	db := setupReconDB(t)
	seedPendingPayment(t, db, "pi_canceled", time.Hour)
	gw := &stubGateway{intents: map[string]*stripe.PaymentIntent{
		"pi_canceled": {ID: "pi_canceled", Status: "canceled"},
	}}

	resolved, err := newTestReconciler(t, db, gw).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	if got := paymentStatus(t, db, "pi_canceled"); got != models.PaymentFailed {
		t.Fatalf("payment status = %s, want failed", got)
	}
}

func TestRunClosesUnknownCharge(t *testing.T) {
	db := setupReconDB(t)
	seedPendingPayment(t, db, "pi_unknown", time.Hour)
	gw := &stubGateway{}

	resolved, err := newTestReconciler(t, db, gw).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("resolved = %d, want 1", resolved)
	}
	if got := paymentStatus(t, db, "pi_unknown"); got != models.PaymentFailed {
		t.Fatalf("payment status = %s, want failed", got)
	}
}

func TestRunSkipsTransientErrors(t *testing.T) {
	db := setupReconDB(t)
	seedPendingPayment(t, db, "pi_flaky", time.Hour)
	gw := &stubGateway{errs: map[string]error{
		"pi_flaky": &stripe.APIError{StatusCode: 503, Code: "api_unavailable"},
	}}

	resolved, err := newTestReconciler(t, db, gw).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("resolved = %d, want 0", resolved)
	}
	if got := paymentStatus(t, db, "pi_flaky"); got != models.PaymentPending {
		t.Fatalf("payment status = %s, want pending", got)
	}
}

func TestRunLeavesFreshAndInFlightAlone(t *testing.T) {
	db := setupReconDB(t)
	seedPendingPayment(t, db, "pi_fresh", time.Minute)
	seedPendingPayment(t, db, "pi_processing", time.Hour)
	gw := &stubGateway{intents: map[string]*stripe.PaymentIntent{
		"pi_processing": {ID: "pi_processing", Status: "processing"},
	}}

	resolved, err := newTestReconciler(t, db, gw).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolved != 0 {
		t.Fatalf("resolved = %d, want 0", resolved)
	}
	if got := paymentStatus(t, db, "pi_fresh"); got != models.PaymentPending {
		t.Fatalf("fresh payment status = %s, want pending", got)
	}
	if got := paymentStatus(t, db, "pi_processing"); got != models.PaymentPending {
		t.Fatalf("in-flight payment status = %s, want pending", got)
	}
}
