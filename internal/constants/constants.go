package constants

import "time"

const (
	MinTotalQuestions     = 3
	MaxTotalQuestions     = 10
	DefaultTotalQuestions = 5

	MinRevealInterval     = 500 * time.Millisecond
	MaxRevealInterval     = 3000 * time.Millisecond
	RevealIntervalStep    = 500 * time.Millisecond
	DefaultRevealInterval = 1000 * time.Millisecond

	DefaultResultDisplay = 2000 * time.Millisecond
)

// Operand ranges are inclusive and start at 1.
const (
	MaxOperandDivide   = 10
	MaxOperandMultiply = 12
	MaxOperandAddSub   = 20
)

// AnswerTolerance absorbs the two-decimal rounding applied to answers.
const AnswerTolerance = 0.01

const (
	SessionCookieName = "session_id"
	CSRFCookieName    = "csrf_token"
	CSRFHeaderName    = "X-CSRF-Token"
	RequestIDHeader   = "X-Request-Id"
)

const (
	RouteHome       = "/"
	RouteOperations = "/api/operations"
	RouteState      = "/api/state"
	RouteSession    = "/api/session"
	RouteStart      = "/api/session/start"
	RouteRestart    = "/api/session/restart"
	RouteAnswer     = "/api/session/answer"
	RouteSubmit     = "/api/session/submit"
	RouteReset      = "/api/session/reset"
	RouteEvents     = "/api/events"
	RouteWebSocket  = "/ws"
	RouteHealthz    = "/healthz"
	RouteMetrics    = "/metrics"
)

const (
	ErrorCodeInvalidOperation  = "invalid_operation"
	ErrorCodeInvalidBody       = "invalid_body"
	ErrorCodeInvalidTransition = "invalid_transition"
	ErrorCodeRateLimited       = "rate_limited"
	ErrorCodeInvalidCSRF       = "invalid_csrf_token"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
)
