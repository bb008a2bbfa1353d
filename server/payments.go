package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/finditapp/findit-server/auth"
	"github.com/finditapp/findit-server/escrow"
	"github.com/finditapp/findit-server/observability"
	"github.com/finditapp/findit-server/stripe"
)

const maxWebhookBody = 64 << 10

type createIntentRequest struct {
	ItemID      string `json:"item_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createIntentRequest
	if !s.decode(w, r, &req) {
		return
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid item_id")
		return
	}
	if req.AmountCents <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount_cents must be positive")
		return
	}
	handle, err := s.escrow.InitiatePayment(r.Context(), itemID, uid, req.AmountCents)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, handle)
}

type confirmPaymentRequest struct {
	IntentID string `json:"intent_id"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.UserID(r.Context()); err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req confirmPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.IntentID = strings.TrimSpace(req.IntentID)
	if req.IntentID == "" {
		s.writeError(w, http.StatusBadRequest, "intent_id required")
		return
	}
	payment, err := s.escrow.ConfirmPayment(r.Context(), req.IntentID, true)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

type payoutRequest struct {
	ItemID   string `json:"item_id"`
	FinderID string `json:"finder_id"`
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req payoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid item_id")
		return
	}
	finderID, err := uuid.Parse(req.FinderID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid finder_id")
		return
	}
	payout, err := s.escrow.InitiatePayout(r.Context(), itemID, uid, finderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, payout)
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.UserID(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit := pagination(r)
	entries, total, err := s.escrow.History(r.Context(), uid, page, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []escrow.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"payments": entries,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// handleWebhook processes asynchronous processor events. Authentication is
// the signature over the raw body; a bad signature is the only 4xx this route
// returns. Once the event is attributed, the response is 200 regardless of
// processing outcome so the processor does not retry events we have already
// judged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		observability.Escrow().RecordWebhook(event.Type, "rejected")
		s.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	result := "processed"
	switch event.Type {
	case stripe.EventPaymentSucceeded, stripe.EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil || intent.ID == "" {
			result = "malformed"
			break
		}
		_, err := s.escrow.ConfirmPayment(r.Context(), intent.ID, event.Type == stripe.EventPaymentSucceeded)
		switch {
		case err == nil:
		case errors.Is(err, escrow.ErrPaymentNotFound):
			// Events for charges we never initiated, for example from
			// another environment sharing the processor account.
			result = "unmatched"
			s.log.Warn("webhook references unknown payment", "intent_id", intent.ID, "type", event.Type)
		case errors.Is(err, escrow.ErrInvalidState):
			result = "stale"
			s.log.Warn("webhook arrived for settled payment", "intent_id", intent.ID, "type", event.Type)
		default:
			result = "error"
			s.log.Error("webhook processing failed", "intent_id", intent.ID, "type", event.Type, "error", err)
		}
	case stripe.EventTransferFailed:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Object, &transfer); err != nil || transfer.ID == "" {
			result = "malformed"
			break
		}
		if err := s.escrow.FailPayout(r.Context(), transfer.ID); err != nil {
			result = "error"
			s.log.Error("webhook processing failed", "transfer_id", transfer.ID, "type", event.Type, "error", err)
		}
	case stripe.EventTransferCreated:
		// Informational; the synchronous payout path already recorded it.
		result = "ignored"
	default:
		result = "ignored"
	}
	observability.Escrow().RecordWebhook(event.Type, result)
	s.writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
