package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"postbell/internal/db"
	"postbell/internal/dispatch"
	"postbell/internal/metrics"
	"postbell/internal/models"
	"postbell/internal/notify"
)

type Unsubscriber interface {
	MarkUnsubscribed(ctx context.Context, email, reason string) error
}

type TokenVerifier interface {
	Verify(address, token string) bool
}

type Publisher interface {
	Publish(ctx context.Context, item models.ContentItem, recipients []models.Recipient) (notify.Outcome, error)
	Enqueue(ctx context.Context, item models.ContentItem, recipients []models.Recipient) (int, error)
}

type DeliveryLister interface {
	ListForContent(ctx context.Context, contentID string) ([]models.DeliveryRecord, error)
}

type QueueInspector interface {
	Get(ctx context.Context, id int64) (*models.QueuedMessage, error)
}

type Handler struct {
	Subscribers Unsubscriber
	Tokens      TokenVerifier
	Publisher   Publisher
	Deliveries  DeliveryLister
	Queue       QueueInspector
	Auth        *Authenticator
	Validate    *validator.Validate
	Log         *zap.Logger

	// RunContext scopes publish runs. Canceling it stops runs between
	// batches; a dropped client does not. Defaults to Background.
	RunContext context.Context

	runs sync.WaitGroup
}

// Wait blocks until every publish run started by this handler has returned.
func (h *Handler) Wait() {
	h.runs.Wait()
}

func (h *Handler) runContext() context.Context {
	if h.RunContext != nil {
		return h.RunContext
	}
	return context.Background()
}

// Routes mounts the public unsubscribe flow and the authenticated API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/unsubscribe", h.UnsubscribeWithToken)

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware)

		r.Post("/unsubscribe", h.UnsubscribeSelfService)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/notifications/publish", h.Publish)
			r.Get("/admin/deliveries", h.ListDeliveries)
			r.Get("/admin/queue/{id}", h.GetQueued)
		})
	})

	return r
}

// UnsubscribeWithToken serves the one-click link from notification emails.
func (h *Handler) UnsubscribeWithToken(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("email")
	tok := r.URL.Query().Get("token")

	if addr == "" || tok == "" || !h.Tokens.Verify(addr, tok) {
		h.renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Invalid unsubscribe link",
			Message: "This unsubscribe link is invalid or incomplete. Please use the link from your most recent email.",
		})
		return
	}

	if err := h.Subscribers.MarkUnsubscribed(r.Context(), addr, ""); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.renderPage(w, http.StatusNotFound, pageData{
				Title:   "Subscription not found",
				Message: "We could not find a subscription for this address.",
			})
			return
		}
		h.Log.Error("failed to unsubscribe", zap.String("email", addr), zap.Error(err))
		h.renderPage(w, http.StatusInternalServerError, pageData{
			Title:   "Something went wrong",
			Message: "We could not process your request. Please try again later.",
		})
		return
	}

	metrics.Unsubscribes.WithLabelValues("token").Inc()
	h.Log.Info("recipient unsubscribed", zap.String("email", addr), zap.String("method", "token"))

	h.renderPage(w, http.StatusOK, pageData{
		Title:   "You have been unsubscribed",
		Message: "You will no longer receive blog notifications at",
		Email:   addr,
	})
}

type unsubscribeRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Reason string `json:"reason" validate:"max=500"`
}

// UnsubscribeSelfService handles authenticated opt-outs without a link token.
func (h *Handler) UnsubscribeSelfService(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	claims := ClaimsFrom(r.Context())
	if claims == nil || (claims.Subject != req.Email && claims.Role != RoleAdmin) {
		writeJSONError(w, http.StatusForbidden, "token does not match email")
		return
	}

	if err := h.Subscribers.MarkUnsubscribed(r.Context(), req.Email, req.Reason); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "subscription not found")
			return
		}
		h.Log.Error("failed to unsubscribe", zap.String("email", req.Email), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}

	metrics.Unsubscribes.WithLabelValues("self_service").Inc()
	h.Log.Info("recipient unsubscribed", zap.String("email", req.Email), zap.String("method", "self_service"))

	writeJSON(w, http.StatusOK, map[string]any{
		"email":  req.Email,
		"status": models.RecipientUnsubscribed,
	})
}

type publishRequest struct {
	Content    models.ContentItem `json:"content" validate:"required"`
	Recipients []models.Recipient `json:"recipients,omitempty" validate:"omitempty,dive"`
	Mode       string             `json:"mode" validate:"omitempty,oneof=inline queued"`
}

type failureResponse struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type publishResponse struct {
	RunID                string            `json:"run_id"`
	Total                int               `json:"total"`
	Sent                 int               `json:"sent"`
	Failed               int               `json:"failed"`
	Skipped              int               `json:"skipped"`
	Canceled             bool              `json:"canceled"`
	AlreadyNotified      int               `json:"already_notified"`
	DirectoryUnavailable bool              `json:"directory_unavailable"`
	Failures             []failureResponse `json:"failures"`
}

// Publish is the internal trigger fired when content goes live.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	h.runs.Add(1)
	defer h.runs.Done()
	ctx := h.runContext()

	if req.Mode == "queued" {
		n, err := h.Publisher.Enqueue(ctx, req.Content, req.Recipients)
		if err != nil {
			if errors.Is(err, dispatch.ErrInvalidInput) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Log.Error("failed to enqueue notifications", zap.String("content_id", req.Content.ID), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "failed to enqueue notifications")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
		return
	}

	out, err := h.Publisher.Publish(ctx, req.Content, req.Recipients)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidInput) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	resp := publishResponse{
		RunID:                out.RunID,
		Total:                out.Result.Total,
		Sent:                 out.Result.SuccessCount,
		Failed:               out.Result.FailureCount,
		Skipped:              out.Result.Skipped,
		Canceled:             out.Result.Canceled,
		AlreadyNotified:      out.AlreadyNotified,
		DirectoryUnavailable: out.DirectoryUnavailable,
		Failures:             make([]failureResponse, 0, len(out.Result.Errors)),
	}
	for _, e := range out.Result.Errors {
		resp.Failures = append(resp.Failures, failureResponse{Email: e.Email, Error: e.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	contentID := r.URL.Query().Get("content_id")
	if contentID == "" {
		writeJSONError(w, http.StatusBadRequest, "content_id is required")
		return
	}
	recs, err := h.Deliveries.ListForContent(r.Context(), contentID)
	if err != nil {
		h.Log.Error("failed to list delivery records", zap.String("content_id", contentID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to list delivery records")
		return
	}
	if recs == nil {
		recs = []models.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetQueued(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	m, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "queued message not found")
			return
		}
		h.Log.Error("failed to load queued message", zap.Int64("message_id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to load queued message")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
