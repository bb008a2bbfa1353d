package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/models"
	"github.com/finditapp/findit-server/notify"
)

// minBountyCents is the smallest reward a bounty may carry. Smaller amounts
// cost more in processor fees than they move.
const minBountyCents = 100

var itemCategories = map[string]bool{
	"electronics": true,
	"jewelry":     true,
	"keys":        true,
	"pets":        true,
	"documents":   true,
	"bags":        true,
	"clothing":    true,
	"other":       true,
}

type createItemRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Location    string   `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	RewardCents *int64   `json:"reward_cents"`
}

func (req *createItemRequest) validate() error {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if n := len(req.Title); n < 3 || n > 100 {
		return errors.New("title must be between 3 and 100 characters")
	}
	if n := len(req.Description); n < 10 || n > 1000 {
		return errors.New("description must be between 10 and 1000 characters")
	}
	if !itemCategories[req.Category] {
		return errors.New("unknown category")
	}
	switch models.ItemType(req.Type) {
	case models.TypeLost, models.TypeFound:
		if req.RewardCents != nil {
			return errors.New("reward is only allowed on bounty items")
		}
	case models.TypeBounty:
		if req.RewardCents == nil {
			return errors.New("bounty items require a reward amount")
		}
		if *req.RewardCents < minBountyCents {
			return errors.New("reward must be at least $1.00")
		}
	default:
		return errors.New("type must be lost, found, or bounty")
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90) {
		return errors.New("latitude out of range")
	}
	if req.Longitude != nil && (*req.Longitude < -180 || *req.Longitude > 180) {
		return errors.New("longitude out of range")
	}
	return nil
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.now()
	item := models.Item{
		ID:            uuid.New(),
		OwnerID:       uid,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		Type:          models.ItemType(req.Type),
		Location:      strings.TrimSpace(req.Location),
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		RewardCents:   req.RewardCents,
		Status:        models.ItemActive,
		PaymentStatus: models.MoneyPending,
		PayoutStatus:  models.MoneyPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(r.Context()).Create(&item).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pagination(r)

	tx := s.db.WithContext(r.Context()).Model(&models.Item{}).
		Where("status <> ?", models.ItemDeleted)
	if t := strings.ToLower(strings.TrimSpace(q.Get("type"))); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if c := strings.ToLower(strings.TrimSpace(q.Get("category"))); c != "" {
		tx = tx.Where("category = ?", c)
	}
	if status := strings.ToLower(strings.TrimSpace(q.Get("status"))); status != "" {
		tx = tx.Where("status = ?", status)
	}
	if search := strings.TrimSpace(q.Get("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	var items []models.Item
	err := tx.Order("priority DESC, created_at DESC").
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

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var item models.Item
	err := s.db.WithContext(r.Context()).Preload("Reports").
		First(&item, "id = ? AND status <> ?", itemID, models.ItemDeleted).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

type updateItemRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Location    *string  `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// handleUpdateItem applies owner edits to descriptive fields only. Type,
// status, reward, and the money columns are never updatable through this
// route; changing the bounty amount after posting would desync it from any
// payment already initiated against it.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !s.decode(w, r, &req) {
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if n := len(t); n < 3 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "title must be between 3 and 100 characters")
			return
		}
		updates["title"] = t
	}
	if req.Description != nil {
		d := strings.TrimSpace(*req.Description)
		if n := len(d); n < 10 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "description must be between 10 and 1000 characters")
			return
		}
		updates["description"] = d
	}
	if req.Category != nil {
		c := strings.ToLower(strings.TrimSpace(*req.Category))
		if !itemCategories[c] {
			s.writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		updates["category"] = c
	}
	if req.Location != nil {
		updates["location"] = strings.TrimSpace(*req.Location)
	}
	if req.Latitude != nil {
		if *req.Latitude < -90 || *req.Latitude > 90 {
			s.writeError(w, http.StatusBadRequest, "latitude out of range")
			return
		}
		updates["latitude"] = *req.Latitude
	}
	if req.Longitude != nil {
		if *req.Longitude < -180 || *req.Longitude > 180 {
			s.writeError(w, http.StatusBadRequest, "longitude out of range")
			return
		}
		updates["longitude"] = *req.Longitude
	}
	if len(updates) == 0 {
		s.writeError(w, http.StatusBadRequest, "no updatable fields provided")
		return
	}
	updates["updated_at"] = s.now()

	res := s.db.WithContext(r.Context()).Model(&models.Item{}).
		Where("id = ? AND owner_id = ? AND status <> ?", itemID, uid, models.ItemDeleted).
		Updates(updates)
	if res.Error != nil {
		s.writeDomainError(w, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	var item models.Item
	if err := s.db.WithContext(r.Context()).First(&item, "id = ?", itemID).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.items.Delete(r.Context(), itemID, uid); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type reportItemRequest struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (s *Server) handleReportItem(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req reportItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	action := models.ReportAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if action != models.ReportFound && action != models.ReportClaimed {
		s.writeError(w, http.StatusBadRequest, "action must be found or claimed")
		return
	}
	if len(req.Message) > 512 {
		s.writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	report, err := s.items.Report(r.Context(), itemID, uid, action, req.Message)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.notifier != nil {
		var item models.Item
		if err := s.db.WithContext(r.Context()).First(&item, "id = ?", itemID).Error; err == nil {
			msg := notify.Message{
				RecipientID: item.OwnerID,
				Type:        notify.TypeItemReported,
				Title:       "Your item was reported " + string(action),
				Body:        "Someone reported your item \"" + item.Title + "\". Check the report and arrange the return.",
				ItemID:      &item.ID,
			}
			if err := s.notifier.Send(r.Context(), msg); err != nil {
				s.log.Warn("failed to notify item owner", "item_id", itemID.String(), "error", err)
			}
		}
	}
	s.writeJSON(w, http.StatusCreated, report)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (page, limit int) {
	page = queryInt(r, "page", 1)
	limit = queryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
