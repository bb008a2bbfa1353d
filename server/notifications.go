package server

import (
	"net/http"
	"strings"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/models"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit := pagination(r)
	tx := s.db.WithContext(r.Context()).Model(&models.Notification{}).
		Where("recipient_id = ?", uid)
	if strings.EqualFold(r.URL.Query().Get("unread"), "true") {
		tx = tx.Where("read = ?", false)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	var rows []models.Notification
	err = tx.Order("created_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&rows).Error
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": rows,
		"total":         total,
		"page":          page,
		"limit":         limit,
	})
}

func (s *Server) handleNotificationCount(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var unread int64
	err = s.db.WithContext(r.Context()).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", uid, false).
		Count(&unread).Error
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"unread": unread})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	res := s.db.WithContext(r.Context()).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, uid).
		Update("read", true)
	if res.Error != nil {
		s.writeDomainError(w, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res := s.db.WithContext(r.Context()).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", uid, false).
		Update("read", true)
	if res.Error != nil {
		s.writeDomainError(w, res.Error)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"updated": res.RowsAffected})
}
