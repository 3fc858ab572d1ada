package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/catalog"
	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/heartbeat"
	"github.com/stewardhq/steward/internal/logging"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

func testServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry, err := catalog.NewBuiltinRegistry(db, nil)
	require.NoError(t, err)

	log := logging.Nop()
	searcher := memory.NewSearcher(db, nil, log)
	eng := engine.New(db, registry, nil, searcher, log)
	runner := heartbeat.NewRunner(db, eng, log, 15, 5)
	return New(db, eng, runner, searcher, log, "test"), db
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "ok", got["status"])
	require.Equal(t, true, got["db"])
}

func TestProposeRoute(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/actions/propose", map[string]any{
		"user_id":   "u1",
		"action":    "get_portfolio_summary",
		"reasoning": "overview requested",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var v engine.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, "auto_execute", v.Status)
	require.True(t, v.Executed)
	require.NotEmpty(t, v.DecisionID)
}

func TestProposeRouteValidation(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/actions/propose", map[string]any{"action": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingResolveRoute(t *testing.T) {
	s, db := testServer(t)
	require.NoError(t, db.UpsertAutonomySettings(&store.AutonomySettings{UserID: "u1", Preset: store.PresetCautious}))

	rec := doJSON(t, s, http.MethodPost, "/api/actions/propose", map[string]any{
		"user_id": "u1",
		"action":  "create_work_order",
		"params":  map[string]any{"request_id": "m1", "summary": "leaking tap"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var v engine.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, "gate", v.Status)
	require.NotEmpty(t, v.PendingID)

	listRec := doJSON(t, s, http.MethodGet, "/api/pending?user_id=u1", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listing struct {
		Pending []map[string]any `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listing))
	require.Len(t, listing.Pending, 1)

	resolveRec := doJSON(t, s, http.MethodPost, "/api/pending/"+v.PendingID+"/resolve",
		map[string]any{"approve": true, "resolved_by": "dana"})
	require.Equal(t, http.StatusOK, resolveRec.Code)

	// A duplicate resolution conflicts rather than re-executing.
	dupRec := doJSON(t, s, http.MethodPost, "/api/pending/"+v.PendingID+"/resolve",
		map[string]any{"approve": true})
	require.Equal(t, http.StatusConflict, dupRec.Code)
}

func TestFeedbackRoute(t *testing.T) {
	s, db := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/actions/propose", map[string]any{
		"user_id": "u1", "action": "get_portfolio_summary",
	})
	var v engine.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))

	bad := doJSON(t, s, http.MethodPost, "/api/decisions/"+v.DecisionID+"/feedback",
		map[string]any{"feedback": "loved it"})
	require.Equal(t, http.StatusBadRequest, bad.Code)

	ok := doJSON(t, s, http.MethodPost, "/api/decisions/"+v.DecisionID+"/feedback",
		map[string]any{"feedback": "approved"})
	require.Equal(t, http.StatusOK, ok.Code)

	d, err := db.GetDecision(v.DecisionID)
	require.NoError(t, err)
	require.Equal(t, store.FeedbackApproved, d.Feedback)
}

func TestAutonomyRoutes(t *testing.T) {
	s, _ := testServer(t)

	put := doJSON(t, s, http.MethodPut, "/api/users/u1/autonomy",
		map[string]any{"preset": "hands_off", "overrides": map[string]int{"integration": 2}})
	require.Equal(t, http.StatusOK, put.Code)

	bad := doJSON(t, s, http.MethodPut, "/api/users/u1/autonomy", map[string]any{"preset": "reckless"})
	require.Equal(t, http.StatusBadRequest, bad.Code)

	get := doJSON(t, s, http.MethodGet, "/api/users/u1/autonomy", nil)
	require.Equal(t, http.StatusOK, get.Code)
	var settings struct {
		Preset    string         `json:"preset"`
		Overrides map[string]int `json:"overrides"`
	}
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &settings))
	require.Equal(t, "hands_off", settings.Preset)
	require.Equal(t, 2, settings.Overrides["integration"])
}

func TestHeartbeatRoute(t *testing.T) {
	s, db := testServer(t)
	u := &store.User{Name: "Dana", Active: true}
	require.NoError(t, db.CreateUser(u))
	require.NoError(t, db.CreateTenancy(&store.Tenancy{
		UserID: u.ID, Address: "2 Low St", Status: "active", ArrearsCents: 12000,
	}))

	rec := doJSON(t, s, http.MethodPost, "/api/heartbeat", map[string]any{"user_id": u.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var report heartbeat.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.UsersScanned)
	require.Equal(t, 1, report.TasksCreated)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw, "processed")
}

func TestListActionsRoute(t *testing.T) {
	s, _ := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Actions []map[string]any `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Actions, len(catalog.Builtins))
}

func TestMemorySearchRoute(t *testing.T) {
	s, db := testServer(t)
	require.NoError(t, db.AppendDecision(&store.Decision{
		UserID: "u1", ActionName: "send_rent_reminder", Category: "action",
		Reasoning: "arrears follow up", Verdict: store.VerdictAutoExecuted,
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/memory/search?user_id=u1&q=arrears", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Results, 1)
}

func TestMemorySearchPreferencesKind(t *testing.T) {
	s, db := testServer(t)
	require.NoError(t, db.UpsertPreference(&store.Preference{
		UserID: "u1", Category: "communication", Key: "tone", Value: "formal",
		Source: store.PrefSourceExplicit, Confidence: 0.9,
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/memory/search?user_id=u1&q=tone&kind=preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Results, 1)
	require.Equal(t, "tone", got.Results[0]["key"])

	bad := doJSON(t, s, http.MethodGet, "/api/memory/search?user_id=u1&q=tone&kind=opinions", nil)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}
