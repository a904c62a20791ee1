package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	app "mentalmath/internal/app"
	config "mentalmath/internal/config"
	constants "mentalmath/internal/constants"
	gametest "mentalmath/internal/game/gametest"
	models "mentalmath/internal/models"
)

// fixedSource makes every operand 5.
type fixedSource struct{}

func (fixedSource) IntN(n int) int { return 4 % n }

type testClient struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	clock  *gametest.Clock
	app    *app.App
}

type stateResponse struct {
	State     StateView `json:"state"`
	ErrorCode string    `json:"error_code"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		CookieMaxAge:          time.Hour,
		StaticCacheAge:        time.Minute,
		RateLimitRPS:          100,
		RateLimitBurst:        100,
		RateLimiterTTL:        time.Hour,
		SessionTTL:            time.Hour,
		DefaultTotalQuestions: 5,
		DefaultRevealInterval: time.Second,
		ResultDisplay:         2 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg *config.Config) *testClient {
	t.Helper()
	clock := gametest.NewClock()
	a := app.New(cfg, clock, fixedSource{})
	server := httptest.NewServer(NewRouter(a))
	t.Cleanup(func() {
		a.Sessions.CloseAll()
		server.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	tc := &testClient{t: t, server: server, client: &http.Client{Jar: jar}, clock: clock, app: a}
	tc.get(constants.RouteState)
	return tc
}

func (tc *testClient) cookie(name string) string {
	u, _ := url.Parse(tc.server.URL)
	for _, c := range tc.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (tc *testClient) get(path string) *http.Response {
	tc.t.Helper()
	resp, err := tc.client.Get(tc.server.URL + path)
	require.NoError(tc.t, err)
	tc.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tc *testClient) post(path string, body any) *http.Response {
	tc.t.Helper()
	return tc.send(http.MethodPost, path, body)
}

func (tc *testClient) send(method, path string, body any) *http.Response {
	tc.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(tc.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, tc.server.URL+path, &buf)
	require.NoError(tc.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.CSRFHeaderName, tc.cookie(constants.CSRFCookieName))
	resp, err := tc.client.Do(req)
	require.NoError(tc.t, err)
	tc.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (tc *testClient) state(resp *http.Response) StateView {
	tc.t.Helper()
	st, _ := tc.stateAndCode(resp)
	return st
}

func (tc *testClient) stateAndCode(resp *http.Response) (StateView, string) {
	tc.t.Helper()
	require.Equal(tc.t, http.StatusOK, resp.StatusCode)
	var out stateResponse
	require.NoError(tc.t, json.NewDecoder(resp.Body).Decode(&out))
	return out.State, out.ErrorCode
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var out struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ErrorCode
}

func TestFullRoundOverHTTP(t *testing.T) {
	tc := newTestClient(t, testConfig())

	st := tc.state(tc.post(constants.RouteStart, gin.H{"operation": "+", "totalQuestions": 3, "revealIntervalMs": 500}))
	assert.Equal(t, models.PhaseRevealing, st.Phase)
	assert.Equal(t, models.OperationAdd, st.Operation)
	assert.Equal(t, "+", st.Symbol)
	assert.Equal(t, 1, st.Round)
	assert.Equal(t, 3, st.TotalRounds)
	assert.Equal(t, 3, st.OperandCount)
	require.NotNil(t, st.CurrentOperand)
	assert.Equal(t, 5, *st.CurrentOperand)
	assert.Nil(t, st.CorrectAnswer)
	assert.Empty(t, st.Operands)

	tc.clock.Advance(1500 * time.Millisecond)
	st = tc.state(tc.get(constants.RouteState))
	assert.Equal(t, models.PhaseAwaitingAnswer, st.Phase)
	assert.Nil(t, st.CurrentOperand)
	assert.Empty(t, st.Operands)

	st = tc.state(tc.post(constants.RouteAnswer, gin.H{"answer": "1"}))
	assert.Equal(t, "1", st.AnswerText)

	st = tc.state(tc.post(constants.RouteSubmit, gin.H{"answer": "15"}))
	assert.Equal(t, models.PhaseShowingResult, st.Phase)
	require.NotNil(t, st.LastAnswerCorrect)
	assert.True(t, *st.LastAnswerCorrect)
	require.NotNil(t, st.CorrectAnswer)
	assert.Equal(t, 15.0, *st.CorrectAnswer)
	assert.Equal(t, []int{5, 5, 5}, st.Operands)
	assert.Equal(t, 1, st.Score)
	assert.Equal(t, 1, st.Answered)
	assert.Equal(t, 100, st.Accuracy)

	tc.clock.Advance(2 * time.Second)
	st = tc.state(tc.get(constants.RouteState))
	assert.Equal(t, models.PhaseRevealing, st.Phase)
	assert.Equal(t, 2, st.Round)
}

func TestInvalidTransitionReturnsUnchangedState(t *testing.T) {
	tc := newTestClient(t, testConfig())
	before := tc.state(tc.post(constants.RouteStart, gin.H{"operation": "divide"}))
	assert.Equal(t, 5, before.TotalRounds)
	assert.Equal(t, 1000, before.RevealIntervalMs)

	after, code := tc.stateAndCode(tc.post(constants.RouteSubmit, gin.H{"answer": "1"}))
	assert.Equal(t, before, after)
	assert.Equal(t, constants.ErrorCodeInvalidTransition, code)

	after, code = tc.stateAndCode(tc.post(constants.RouteStart, gin.H{"operation": "add"}))
	assert.Equal(t, before, after)
	assert.Equal(t, constants.ErrorCodeInvalidTransition, code)

	_, code = tc.stateAndCode(tc.post(constants.RouteReset, nil))
	assert.Empty(t, code)
}

func TestForgetSessionDropsState(t *testing.T) {
	tc := newTestClient(t, testConfig())
	tc.state(tc.post(constants.RouteStart, gin.H{"operation": "add", "totalQuestions": 3, "revealIntervalMs": 500}))
	tc.clock.Advance(1500 * time.Millisecond)
	tc.state(tc.post(constants.RouteSubmit, gin.H{"answer": "15"}))
	oldID := tc.cookie(constants.SessionCookieName)
	require.NotEmpty(t, oldID)

	resp := tc.send(http.MethodDelete, constants.RouteSession, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, tc.app.Sessions.Len())
	assert.Equal(t, 0, tc.clock.Pending())
	assert.Empty(t, tc.cookie(constants.SessionCookieName))

	st := tc.state(tc.get(constants.RouteState))
	assert.Equal(t, models.PhaseIdle, st.Phase)
	assert.Equal(t, 0, st.Score)
	assert.Equal(t, 0, st.Answered)
	assert.NotEqual(t, oldID, tc.cookie(constants.SessionCookieName))
	assert.Equal(t, 1, tc.app.Sessions.Len())
}

func TestRestartAndReset(t *testing.T) {
	tc := newTestClient(t, testConfig())
	tc.state(tc.post(constants.RouteStart, gin.H{"operation": "add", "totalQuestions": 3, "revealIntervalMs": 500}))
	tc.clock.Advance(1500 * time.Millisecond)
	tc.state(tc.post(constants.RouteSubmit, gin.H{"answer": "15"}))

	st := tc.state(tc.post(constants.RouteReset, nil))
	assert.Equal(t, models.PhaseIdle, st.Phase)
	assert.Empty(t, st.Operation)
	assert.Equal(t, 1, st.Score)
	assert.Equal(t, 1, st.Answered)

	st = tc.state(tc.post(constants.RouteRestart, gin.H{"operation": "×", "totalQuestions": 20}))
	assert.Equal(t, models.OperationMultiply, st.Operation)
	assert.Equal(t, models.PhaseRevealing, st.Phase)
	assert.Equal(t, 10, st.TotalRounds)
	assert.Equal(t, 0, st.Score)
}

func TestBadRequests(t *testing.T) {
	tc := newTestClient(t, testConfig())

	resp := tc.post(constants.RouteStart, gin.H{"operation": "modulo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, constants.ErrorCodeInvalidOperation, errorCode(t, resp))

	resp = tc.post(constants.RouteAnswer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, constants.ErrorCodeInvalidBody, errorCode(t, resp))

	req, err := http.NewRequest(http.MethodPost, tc.server.URL+constants.RouteStart, strings.NewReader(`{"operation":"add"}`))
	require.NoError(t, err)
	resp, err = tc.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, constants.ErrorCodeInvalidCSRF, errorCode(t, resp))
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	tc := newTestClient(t, cfg)

	assert.Equal(t, http.StatusOK, tc.post(constants.RouteReset, nil).StatusCode)
	assert.Equal(t, http.StatusOK, tc.post(constants.RouteReset, nil).StatusCode)
	resp := tc.post(constants.RouteReset, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, constants.ErrorCodeRateLimited, errorCode(t, resp))
}

func TestCatalogueHealthAndMetrics(t *testing.T) {
	tc := newTestClient(t, testConfig())

	resp := tc.get(constants.RouteOperations)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ops struct {
		Operations []OperationView `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ops))
	require.Len(t, ops.Operations, 4)
	assert.Equal(t, OperationView{Name: models.OperationDivide, Symbol: "÷", Label: "Division", Min: 1, Max: 10}, ops.Operations[3])

	resp = tc.get(constants.RouteHome)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	resp = tc.get(constants.RouteHealthz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["active_sessions"])

	tc.state(tc.post(constants.RouteStart, gin.H{"operation": "add"}))
	resp = tc.get(constants.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `mentalmath_sessions_started_total{operation="add"} 1`)
	assert.Contains(t, body.String(), "mentalmath_active_sessions 1")
}

func TestEventsStreamsState(t *testing.T) {
	tc := newTestClient(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.server.URL+constants.RouteEvents, nil)
	require.NoError(t, err)
	resp, err := tc.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	next := func() StateView {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				var st StateView
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &st))
				return st
			}
		}
	}

	assert.Equal(t, models.PhaseIdle, next().Phase)
	tc.state(tc.post(constants.RouteStart, gin.H{"operation": "subtract", "totalQuestions": 3}))
	st := next()
	assert.Equal(t, models.PhaseRevealing, st.Phase)
	assert.Equal(t, models.OperationSubtract, st.Operation)
}

func TestWebSocketStreamsState(t *testing.T) {
	tc := newTestClient(t, testConfig())

	wsURL := "ws" + strings.TrimPrefix(tc.server.URL, "http") + constants.RouteWebSocket
	header := http.Header{}
	header.Set("Cookie", constants.SessionCookieName+"="+tc.cookie(constants.SessionCookieName))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	type message struct {
		Type  string    `json:"type"`
		State StateView `json:"state"`
	}
	var msg message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, models.PhaseIdle, msg.State.Phase)

	tc.state(tc.post(constants.RouteStart, gin.H{"operation": "multiply", "totalQuestions": 3}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, models.PhaseRevealing, msg.State.Phase)
	assert.Equal(t, models.OperationMultiply, msg.State.Operation)
}

func TestOpenStreamKeepsSessionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 200 * time.Millisecond
	cfg.StreamHeartbeat = 20 * time.Millisecond
	tc := newTestClient(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.server.URL+constants.RouteEvents, nil)
	require.NoError(t, err)
	resp, err := tc.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "event:"))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 0, tc.app.Sessions.CleanupExpired())
	assert.Equal(t, 1, tc.app.Sessions.Len())
}
