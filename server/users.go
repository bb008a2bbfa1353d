package server

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/stripe"
)

func (s *Server) handleMyItems(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit := pagination(r)
	tx := s.db.WithContext(r.Context()).Model(&models.Item{}).
		Where("owner_id = ? AND status <> ?", uid, models.ItemDeleted)
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	var items []models.Item
	err = tx.Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&items).Error
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

type userStats struct {
	ItemsTotal    int64 `json:"items_total"`
	ItemsActive   int64 `json:"items_active"`
	ItemsResolved int64 `json:"items_resolved"`
	SpentCents    int64 `json:"spent_cents"`
	EarnedCents   int64 `json:"earned_cents"`
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	db := s.db.WithContext(r.Context())
	var stats userStats

	base := db.Model(&models.Item{}).Where("owner_id = ? AND status <> ?", uid, models.ItemDeleted)
	if err := base.Count(&stats.ItemsTotal).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := db.Model(&models.Item{}).
		Where("owner_id = ? AND status = ?", uid, models.ItemActive).
		Count(&stats.ItemsActive).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := db.Model(&models.Item{}).
		Where("owner_id = ? AND status IN ?", uid, []models.ItemStatus{models.ItemFound, models.ItemClaimed}).
		Count(&stats.ItemsResolved).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := db.Model(&models.Payment{}).
		Where("user_id = ? AND status = ?", uid, models.PaymentCompleted).
		Select("COALESCE(SUM(amount_cents), 0)").Scan(&stats.SpentCents).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := db.Model(&models.Payout{}).
		Where("finder_id = ? AND status = ?", uid, models.PaymentCompleted).
		Select("COALESCE(SUM(amount_cents), 0)").Scan(&stats.EarnedCents).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleStripeConnect onboards the caller as a payout recipient. The account
// id is stored immediately so a half-finished onboarding can resume; whether
// payouts are actually enabled is read live from the processor.
func (s *Server) handleStripeConnect(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.gateway == nil {
		s.writeError(w, http.StatusServiceUnavailable, "payouts are not configured")
		return
	}
	var user models.User
	if err := s.db.WithContext(r.Context()).First(&user, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}

	account, err := s.gateway.ConnectAccount(r.Context(), stripe.ConnectParams{
		Email:      user.Email,
		RefreshURL: s.frontendURL + "/account/payouts?refresh=1",
		ReturnURL:  s.frontendURL + "/account/payouts?complete=1",
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	res := s.db.WithContext(r.Context()).Model(&models.User{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{"stripe_account_id": account.AccountID, "updated_at": s.now()})
	if res.Error != nil {
		s.writeDomainError(w, res.Error)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"account_id":     account.AccountID,
		"onboarding_url": account.OnboardingURL,
	})
}

func (s *Server) handleStripeConnectStatus(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var user models.User
	if err := s.db.WithContext(r.Context()).First(&user, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	if !user.Payable() {
		s.writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	if s.gateway == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"connected": true})
		return
	}
	account, err := s.gateway.GetAccount(r.Context(), user.StripeAccountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"connected":         true,
		"payouts_enabled":   account.PayoutsEnabled,
		"details_submitted": account.DetailsSubmitted,
	})
}
