package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/store"
)

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string         `json:"user_id"`
		SessionID string         `json:"session_id"`
		Action    string         `json:"action"`
		Params    map[string]any `json:"params"`
		Reasoning string         `json:"reasoning"`
		TaskType  string         `json:"task_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "user_id and action required")
		return
	}

	verdict, err := s.engine.Propose(r.Context(), engine.Proposal{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Action:    req.Action,
		Params:    req.Params,
		Reasoning: req.Reasoning,
		TaskType:  req.TaskType,
	})
	if err != nil && verdict.DecisionID == "" {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Execution failures still carry a ledgered verdict worth returning.
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	defs := s.engine.Registry.Definitions()
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"name":       d.Name,
			"category":   d.Category,
			"risk":       d.Risk,
			"min_tier":   d.MinTier,
			"reversible": d.Reversible,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	pending, err := s.db.ListPendingActions(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pendingViews(pending)})
}

func pendingViews(pending []store.PendingAction) []map[string]any {
	out := make([]map[string]any, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]any{
			"id":          p.ID,
			"decision_id": p.DecisionID,
			"action":      p.ActionName,
			"params":      p.Params,
			"created_at":  p.CreatedAt,
		})
	}
	return out
}

func (s *Server) handleResolvePending(w http.ResponseWriter, r *http.Request) {
	pendingID := chi.URLParam(r, "pendingID")

	var req struct {
		Approve    bool   `json:"approve"`
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	verdict, err := s.engine.Resolve(r.Context(), pendingID, req.Approve, req.ResolvedBy)
	if errors.Is(err, store.ErrNotPending) {
		writeError(w, http.StatusConflict, "pending action already resolved or missing")
		return
	}
	if err != nil && verdict.DecisionID == "" {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	decisions, err := s.db.RecentDecisions(userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, map[string]any{
			"id":         d.ID,
			"action":     d.ActionName,
			"category":   d.Category,
			"verdict":    d.Verdict,
			"confidence": d.Confidence,
			"reason":     d.Reason,
			"feedback":   d.Feedback,
			"created_at": d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "decisionID")

	var req struct {
		Feedback   string `json:"feedback"`
		Correction string `json:"correction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch req.Feedback {
	case store.FeedbackApproved, store.FeedbackRejected, store.FeedbackCorrected:
	default:
		writeError(w, http.StatusBadRequest, "feedback must be approved, rejected, or corrected")
		return
	}

	if err := s.engine.Feedback(r.Context(), decisionID, req.Feedback, req.Correction); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleGetAutonomy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	settings, err := s.db.GetAutonomySettings(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   settings.UserID,
		"preset":    settings.Preset,
		"overrides": settings.Overrides,
	})
}

func (s *Server) handlePutAutonomy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Preset    string         `json:"preset"`
		Overrides map[string]int `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	settings := &store.AutonomySettings{
		UserID:    userID,
		Preset:    req.Preset,
		Overrides: req.Overrides,
	}
	if err := s.db.UpsertAutonomySettings(settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	rules, err := s.db.ActiveRules(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(rules))
	for _, rule := range rules {
		out = append(out, map[string]any{
			"id":         rule.ID,
			"category":   rule.Category,
			"trigger":    rule.TriggerText,
			"confidence": rule.Confidence,
			"created_at": rule.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	query := r.URL.Query().Get("q")
	if userID == "" || query == "" {
		writeError(w, http.StatusBadRequest, "user_id and q required")
		return
	}
	threshold, err := strconv.ParseFloat(r.URL.Query().Get("threshold"), 64)
	if err != nil {
		threshold = 0.5
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var out []map[string]any
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "decisions":
		results, err := s.searcher.SimilarDecisions(r.Context(), userID, query, threshold, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = make([]map[string]any, 0, len(results))
		for _, res := range results {
			out = append(out, map[string]any{
				"decision_id": res.Decision.ID,
				"action":      res.Decision.ActionName,
				"reasoning":   res.Decision.Reasoning,
				"verdict":     res.Decision.Verdict,
				"similarity":  res.Similarity,
			})
		}
	case "preferences":
		results, err := s.searcher.SimilarPreferences(r.Context(), userID, query, threshold, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = make([]map[string]any, 0, len(results))
		for _, res := range results {
			out = append(out, map[string]any{
				"category":   res.Preference.Category,
				"key":        res.Preference.Key,
				"value":      res.Preference.Value,
				"source":     res.Preference.Source,
				"similarity": res.Similarity,
			})
		}
	case "rules":
		results, err := s.searcher.SimilarRules(r.Context(), userID, query, threshold, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = make([]map[string]any, 0, len(results))
		for _, res := range results {
			out = append(out, map[string]any{
				"rule_id":    res.Rule.ID,
				"category":   res.Rule.Category,
				"trigger":    res.Rule.TriggerText,
				"confidence": res.Rule.Confidence,
				"similarity": res.Similarity,
			})
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be decisions, preferences, or rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	// An empty body means a full scan.
	json.NewDecoder(r.Body).Decode(&req)

	report, err := s.runner.Run(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
