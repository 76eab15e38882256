// Package api exposes the one-shot analysis endpoint. Unlike the monitor,
// which runs scheduled passes over a live call, this surface analyzes a
// complete transcript per request and is stateless.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/classifier"
	"github.com/guardline-ai/guardline-core/internal/guidance"
)

type analyzeRequest struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /analyze.
type Handler struct {
	clf    *classifier.Classifier
	guide  *guidance.Provider
	lang   string
	logger *slog.Logger
}

func NewHandler(clf *classifier.Classifier, guide *guidance.Provider, defaultLang string, logger *slog.Logger) *Handler {
	return &Handler{
		clf:    clf,
		guide:  guide,
		lang:   defaultLang,
		logger: logger.With(slog.String("component", "api")),
	}
}

// Register mounts the handler on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/analyze", h.handleAnalyze)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No transcript provided")
		return
	}
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		writeError(w, http.StatusBadRequest, "No transcript provided")
		return
	}
	lang := req.Language
	if lang == "" {
		lang = h.lang
	}

	result, status, msg := h.analyze(r, transcript, lang)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	result.Transcript = transcript
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Warn("failed to encode analysis response", slog.String("error", err.Error()))
	}
}

// analyze runs the classifier when configured and otherwise scores with the
// rule engine. Rate-limit and quota failures are surfaced to the caller;
// upstream unavailability degrades to the rule result because that fallback
// is always configured here.
func (h *Handler) analyze(r *http.Request, transcript, lang string) (analysis.Result, int, string) {
	if h.clf != nil {
		result, err := h.clf.Classify(r.Context(), transcript, lang)
		switch {
		case err == nil:
			return result, 0, ""
		case errors.Is(err, classifier.ErrRateLimited):
			return analysis.Result{}, http.StatusTooManyRequests, "Rate limit exceeded. Please try again in a moment."
		case errors.Is(err, classifier.ErrQuotaExceeded):
			return analysis.Result{}, http.StatusPaymentRequired, "Usage limit reached. Please check your account."
		case errors.Is(err, classifier.ErrUnavailable):
			h.logger.Warn("classifier unavailable, serving rule result",
				slog.String("error", err.Error()))
		default:
			return analysis.Result{}, http.StatusInternalServerError, err.Error()
		}
	}
	return h.ruleResult(transcript, lang), 0, ""
}

func (h *Handler) ruleResult(transcript, lang string) analysis.Result {
	return analysis.RuleResult(transcript, func(level analysis.RiskLevel) []string {
		if h.guide == nil {
			return nil
		}
		return h.guide.For(level, lang)
	})
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
