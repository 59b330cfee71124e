package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shopkeeper/backend/internal/chat"
	"github.com/shopkeeper/backend/internal/provider"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	body := map[string]interface{}{}
	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			status = "degraded"
			body["reason"] = err.Error()
		}
	}
	if s.deps.Breakers != nil {
		body["breakers"] = s.deps.Breakers.Stats()
	}
	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var msg chat.Message
	if !decodeBody(w, r, &msg) {
		return
	}

	resp, err := s.deps.Chat.HandleMessage(r.Context(), msg)
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var ve *chat.ValidationError
	var rl *chat.RateLimitError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"rateLimited":       true,
			"scope":             rl.Scope,
			"retryAfterSeconds": secs,
			"error":             "rate_limited",
			"text":              "You're sending messages too quickly. Please wait a moment and try again.",
		})
	case errors.Is(err, provider.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		s.logger.Info("[API] client went away mid-turn", "error", err)
	default:
		s.logger.Error("[API] chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		writeError(w, http.StatusServiceUnavailable, "coupons not configured")
		return
	}
	var req struct {
		Code     string `json:"code"`
		Identity string `json:"identity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Code == "" || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "code and identity are required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Coupons.Validate(r.Context(), req.Code, req.Identity))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	identity := mux.Vars(r)["identity"]
	sess := s.deps.Sessions.Get(identity)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity":      identity,
		"hasActiveCode": sess.ActiveCode != "",
		"activeCode":    sess.ActiveCode,
		"penaltyActive": sess.PenaltyActive,
		"politeCount":   sess.PoliteCount,
	})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Governor == nil {
		writeError(w, http.StatusServiceUnavailable, "rate governor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Governor.Stats())
}
