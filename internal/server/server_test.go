package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/observability"
	"github.com/ppiankov/axiom/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *observability.Metrics) {
	t.Helper()
	return newTestServerWith(t, model.DefaultConfig())
}

func newTestServerWith(t *testing.T, cfg *model.Config) (*Server, *observability.Metrics) {
	t.Helper()
	registry, err := agent.NewRegistry(
		agent.NewNumericVerifier(cfg.Verifiers),
		agent.NewRetrieverAgent(cfg.Retrieval),
		agent.NewConsistencyBot(),
	)
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	p := pipeline.New(cfg, registry, pipeline.WithMetrics(metrics))
	return New(cfg, p, WithMetrics(metrics), WithVersion("test")), metrics
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type verifyReply struct {
	Session model.VerificationSession `json:"session"`
}

func TestRootAndHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var root map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &root))
	assert.Equal(t, "axiom", root["service"])
	assert.Equal(t, "test", root["version"])
	assert.Equal(t, "none", root["backend"])

	w = do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.EqualValues(t, 3, health["verifiers"])
}

func TestVerify_StoresSession(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/verify", VerifyRequest{
		Prompt:   "Summarize Acme Q3",
		Response: "Acme Corp revenue grew 32% QoQ in Q3 2024. Acme Corp announced a new CEO in October 2024.",
		Domain:   "finance",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply verifyReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	session := reply.Session
	require.NotEmpty(t, session.ID)
	require.Len(t, session.Claims, 2)
	assert.Len(t, session.Verifications, 2)
	require.NotNil(t, session.OverallAction)
	require.NotNil(t, session.Settlement)
	assert.Equal(t, session.ID, session.Settlement.SessionID)

	w = do(t, s, http.MethodGet, "/api/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored model.VerificationSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, session.ID, stored.ID)
	assert.Equal(t, *session.OverallAction, *stored.OverallAction)

	w = do(t, s, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, session.ID, list.Sessions[0].ID)
	assert.Equal(t, 2, list.Sessions[0].ClaimsCount)
}

func TestVerify_DefaultsDomain(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/verify", VerifyRequest{Response: "Nothing to see here at all, really."})
	require.Equal(t, http.StatusOK, w.Code)

	var reply verifyReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "finance", reply.Session.Domain)
	assert.Empty(t, reply.Session.Claims)
	require.NotNil(t, reply.Session.OverallAction)
	assert.Equal(t, model.ActionAllow, *reply.Session.OverallAction)
	assert.Equal(t, pipeline.ReasonNoClaims, reply.Session.Reason)
	assert.Nil(t, reply.Session.Settlement)
}

func TestVerify_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{not json"},
		{"empty response", VerifyRequest{Prompt: "p", Response: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/verify", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
	assert.Equal(t, 0, s.Store().Len())
}

func TestRateLimit(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Server.RequestsPerSecond = 0.001
	cfg.Server.Burst = 1
	s, _ := newTestServerWith(t, cfg)

	body := VerifyRequest{Response: "Nothing to see here at all, really."}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/verify", body).Code)

	w := do(t, s, http.MethodPost, "/api/verify", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/api/demo/finance-true", nil).Code,
		"the budget is shared across verification endpoints")
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/sessions", nil).Code)
}

func TestExtractClaims(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/extract-claims", VerifyRequest{
		Response: "In Harrison v. Mercy General Hospital (2019), the court held that peer review is privileged.",
		Domain:   "legal",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var reply struct {
		Claims []model.Claim `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	require.Len(t, reply.Claims, 1)
	assert.Equal(t, "CLM-001", reply.Claims[0].ID)
	assert.Equal(t, model.ClaimKindCaseCitation, reply.Claims[0].Kind)
	assert.Equal(t, 0, s.Store().Len(), "extraction alone stores nothing")
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/sessions/SES-MISSING", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgents(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		Agents []AgentInfo `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	require.Len(t, reply.Agents, 3)
	assert.Equal(t, model.VerifierNumeric, reply.Agents[0].Name)
	assert.Equal(t, model.VerifierRetriever, reply.Agents[1].Name)
	assert.Equal(t, model.VerifierConsistency, reply.Agents[2].Name)
	for _, a := range reply.Agents {
		assert.NotEmpty(t, a.Specialty, a.Name)
	}
}

func TestDemo(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/demo/legal-false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply verifyReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "legal", reply.Session.Domain)
	assert.NotEmpty(t, reply.Session.Claims)

	w = do(t, s, http.MethodPost, "/api/demo/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "finance-false")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/demo/finance-true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "axiom_sessions_total")
	assert.Contains(t, w.Body.String(), "axiom_verifier_latency_seconds")
}

type wireEvent struct {
	Type      pipeline.EventType `json:"type"`
	SessionID string             `json:"session_id"`
	Payload   json.RawMessage    `json:"payload"`
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/verify"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	return ws
}

func TestStream(t *testing.T) {
	s, _ := newTestServer(t)
	ws := dial(t, s)

	require.NoError(t, ws.WriteJSON(VerifyRequest{
		Prompt:   "Summarize Acme Q3",
		Response: "Acme Corp revenue grew 32% QoQ in Q3 2024.",
		Domain:   "finance",
	}))

	var got []pipeline.EventType
	var sessionID string
	for {
		var e wireEvent
		require.NoError(t, ws.ReadJSON(&e))
		got = append(got, e.Type)
		if sessionID == "" {
			sessionID = e.SessionID
		}
		assert.Equal(t, sessionID, e.SessionID)
		if e.Type == pipeline.EventSettlement {
			break
		}
	}

	want := []pipeline.EventType{pipeline.EventSessionCreated, pipeline.EventClaimsExtracted}
	for i := 0; i < 3; i++ {
		want = append(want, pipeline.EventAgentQuote)
	}
	want = append(want, pipeline.EventRiskUpdate, pipeline.EventSettlement)
	assert.Equal(t, want, got)

	// The session is stored once the run completes; the next message is
	// handled only after that.
	require.NoError(t, ws.WriteJSON(VerifyRequest{Response: ""}))
	var e wireEvent
	require.NoError(t, ws.ReadJSON(&e))
	assert.Equal(t, pipeline.EventError, e.Type)
	assert.Contains(t, string(e.Payload), "response text is required")

	_, ok := s.Store().Get(sessionID)
	assert.True(t, ok)
}

func TestStream_MalformedMessage(t *testing.T) {
	s, _ := newTestServer(t)
	ws := dial(t, s)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{oops")))
	var e wireEvent
	require.NoError(t, ws.ReadJSON(&e))
	assert.Equal(t, pipeline.EventError, e.Type)
	assert.Contains(t, string(e.Payload), "invalid request")

	// The connection survives a bad message
	require.NoError(t, ws.WriteJSON(VerifyRequest{Response: "Plain words without any claims."}))
	var types []pipeline.EventType
	for len(types) < 3 {
		require.NoError(t, ws.ReadJSON(&e))
		types = append(types, e.Type)
	}
	assert.Equal(t, []pipeline.EventType{pipeline.EventSessionCreated, pipeline.EventClaimsExtracted, pipeline.EventAction}, types)
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore(time.Minute)
	older := model.NewSession("first", "r", "finance")
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := model.NewSession(strings.Repeat("p", 150), "r", "legal")

	require.NoError(t, store.Put(older))
	require.NoError(t, store.Put(newer))
	assert.Equal(t, 2, store.Len())

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Len(t, list[0].Prompt, 100)
	assert.Equal(t, older.ID, list[1].ID)

	_, ok := store.Get("SES-NOPE")
	assert.False(t, ok)
}
