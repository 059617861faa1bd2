package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hyperjump/proshno/internal/eval"
	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultSearchK = 5
	defaultAskK    = 3
	maxAskK        = 10
)

type endpoint struct {
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Params []string `json:"params,omitempty"`
}

var endpoints = map[string]endpoint{
	"search":   {Method: http.MethodGet, Path: "/search", Params: []string{"query", "k"}},
	"ask":      {Method: http.MethodGet, Path: "/ask", Params: []string{"query", "k"}},
	"chat":     {Method: http.MethodPost, Path: "/chat", Params: []string{"message", "k"}},
	"stats":    {Method: http.MethodGet, Path: "/stats"},
	"health":   {Method: http.MethodGet, Path: "/health"},
	"evaluate": {Method: http.MethodPost, Path: "/evaluate", Params: []string{"fraction", "samples", "k_max", "seed"}},
}

type searchResponse struct {
	*models.RetrievalResult
	SystemStats models.Status `json:"system_stats"`
}

type askResponse struct {
	Query        string        `json:"query,omitempty"`
	UserMessage  string        `json:"user_message,omitempty"`
	Answer       *string       `json:"answer"`
	Match        *models.Hit   `json:"match"`
	Alternatives []*models.Hit `json:"alternatives"`
}

type chatRequest struct {
	Message string `json:"message"`
	K       *int   `json:"k,omitempty"`
}

type evaluateRequest struct {
	Fraction *float64 `json:"fraction,omitempty"`
	Samples  *int     `json:"samples,omitempty"`
	KMax     *int     `json:"k_max,omitempty"`
	Seed     *int64   `json:"seed,omitempty"`
}

type statsResponse struct {
	models.Stats
	CacheDiskUsage int64 `json:"cache_disk_usage_bytes,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":      "proshno",
		"version":   Version,
		"endpoints": endpoints,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	k, err := parseK(r.URL.Query().Get("k"), defaultSearchK)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query), zap.Int("k", k))
	res, err := s.search.Search(r.Context(), query, k)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{RetrievalResult: res, SystemStats: s.search.Status()})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	k, err := parseK(r.URL.Query().Get("k"), defaultAskK)
	if err == nil && k > maxAskK {
		err = fmt.Errorf("%w: k must be between 1 and %d, got %d", models.ErrInvalidParameter, maxAskK, k)
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("ask request", zap.String("query", query), zap.Int("k", k))
	res, err := s.search.Search(r.Context(), query, k)
	if err != nil {
		s.fail(w, "ask", err)
		return
	}
	resp := answerFrom(res)
	resp.Query = query
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k := defaultAskK
	if req.K != nil {
		k = *req.K
	}
	s.logger.Debug("chat request", zap.String("message", req.Message), zap.Int("k", k))
	res, err := s.search.Search(r.Context(), req.Message, k)
	if err != nil {
		s.fail(w, "chat", err)
		return
	}
	resp := answerFrom(res)
	resp.UserMessage = req.Message
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Stats: s.search.Stats()}
	diskBytes, err := storage.DiskUsageBytes(s.config.Index.CacheDir)
	if err == nil {
		resp.CacheDiskUsage = diskBytes
	} else {
		s.logger.Debug("stats: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"ready":  s.handle.Ready(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pinned, err := s.search.Pin()
	if err != nil {
		s.fail(w, "evaluate", err)
		return
	}
	cfg := s.config.Eval
	if req.Fraction != nil {
		if *req.Fraction <= 0 || *req.Fraction > 1 {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("%v: fraction must be in (0, 1]", models.ErrInvalidParameter))
			return
		}
		cfg.Fraction = *req.Fraction
	}
	if req.Samples != nil {
		cfg.Samples = max(*req.Samples, 0)
	}
	if req.KMax != nil {
		cfg.KMax = *req.KMax
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	report, err := eval.New(cfg, eval.WithLogger(s.logger)).Evaluate(r.Context(), pinned.Corpus(), pinned)
	if err != nil {
		s.fail(w, "evaluate", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func answerFrom(res *models.RetrievalResult) askResponse {
	resp := askResponse{Alternatives: []*models.Hit{}}
	if top := res.Top(); top != nil {
		answer := top.AnswerText
		resp.Answer = &answer
		resp.Match = top
		resp.Alternatives = res.Hits[1:]
	}
	return resp
}

// parseK reads the k query parameter, returning def when it is absent. Range
// checks are left to the retrieval service.
func parseK(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: k must be an integer, got %q", models.ErrInvalidParameter, raw)
	}
	return k, nil
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParameter), errors.Is(err, models.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
