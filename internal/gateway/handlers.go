package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/chatrelay/internal/relay"
	"github.com/flemzord/chatrelay/internal/stats"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "ok",
			Subscribers: g.hub.Subscribers(),
		})
	}
}

// handleStats serves GET /api/stats?period=day|week|month.
func (g *Gateway) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		period := stats.Period(r.URL.Query().Get("period"))
		if period == "" {
			period = stats.PeriodDay
		}

		resp, err := g.collector.Stats(r.Context(), period)
		if err != nil {
			if errors.Is(err, stats.ErrInvalidPeriod) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			g.logger.Error("stats request failed", "period", string(period), "error", err)
			writeError(w, http.StatusInternalServerError, "stats unavailable")
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// handleDialogInfo serves GET /api/dialogs/{userID}.
func (g *Gateway) handleDialogInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		writeJSON(w, http.StatusOK, g.exchanger.Info(r.Context(), userID))
	}
}

// handleDialogReset serves DELETE /api/dialogs/{userID}, clearing the
// user's conversation.
func (g *Gateway) handleDialogReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		if err := g.exchanger.Reset(r.Context(), userID); err != nil {
			g.logger.Error("dialog reset failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// PromptRequest is the JSON body for PUT /api/dialogs/{userID}/prompt.
// An empty prompt restores the default.
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

func (g *Gateway) handleDialogPrompt() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		var req PromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := g.exchanger.SetPrompt(r.Context(), userID, req.Prompt); err != nil {
			g.logger.Error("prompt update failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "prompt update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// MessageRequest is the JSON body for POST /api/messages.
type MessageRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// MessageResponse returns the chunks the exchange delivered.
type MessageResponse struct {
	Chunks []string `json:"chunks"`
}

// handleMessage runs a full exchange inline and returns the delivered
// chunks. Intended for development and integration tests; production
// chat traffic arrives through the external transport.
func (g *Gateway) handleMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID <= 0 || req.Text == "" {
			writeError(w, http.StatusBadRequest, "user_id and text are required")
			return
		}

		var chunks []string
		sink := relay.DelivererFunc(func(_ context.Context, text string) error {
			chunks = append(chunks, text)
			return nil
		})

		if err := g.exchanger.HandleMessage(r.Context(), req.UserID, req.Text, sink); err != nil {
			g.logger.Error("message exchange failed", "user_id", req.UserID, "error", err)

			status := http.StatusBadGateway
			var relayErr *relay.Error
			if errors.As(err, &relayErr) && relayErr.Category == relay.CategoryRateLimited {
				status = http.StatusTooManyRequests
			}
			// The category message was already delivered as a chunk.
			writeJSON(w, status, MessageResponse{Chunks: chunks})
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Chunks: chunks})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
