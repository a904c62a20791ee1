package handlers

import (
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	app "mentalmath/internal/app"
	constants "mentalmath/internal/constants"
	game "mentalmath/internal/game"
	models "mentalmath/internal/models"
	problem "mentalmath/internal/problem"
	session "mentalmath/internal/session"
	util "mentalmath/internal/util"
)

type StartRequest struct {
	Operation        string `json:"operation"`
	TotalQuestions   *int   `json:"totalQuestions"`
	RevealIntervalMs *int   `json:"revealIntervalMs"`
}

type AnswerRequest struct {
	Answer *string `json:"answer"`
}

func currentSession(a *app.App, c *gin.Context) *game.Session {
	sessionID := session.GetOrCreateSessionID(c, a.Config.CookieMaxAge, a.IsProduction())
	return a.Sessions.GetOrCreate(c.Request.Context(), sessionID)
}

func operationViews() []OperationView {
	return lo.Map(models.Operations, func(op models.Operation, _ int) OperationView {
		return OperationView{
			Name:   op,
			Symbol: op.Symbol(),
			Label:  op.Label(),
			Min:    1,
			Max:    problem.OperandMax(op),
		}
	})
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func respondState(c *gin.Context, sess *game.Session) {
	c.JSON(http.StatusOK, gin.H{"state": NewStateView(sess.State())})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "error_code": code})
}

// respondResult answers with the session state. A rejected transition is
// logged and tagged with an error code, but the status stays 200 and the
// state is the unchanged one.
func respondResult(c *gin.Context, sess *game.Session, action string, err error) {
	switch {
	case err == nil:
		respondState(c, sess)
	case errors.Is(err, game.ErrInvalidTransition):
		util.LogWarnCtx(c.Request.Context(), "Ignored %s: %v", action, err)
		c.JSON(http.StatusOK, gin.H{
			"state":      NewStateView(sess.State()),
			"error_code": constants.ErrorCodeInvalidTransition,
		})
	default:
		util.LogWarnCtx(c.Request.Context(), "Failed %s: %v", action, err)
		respondState(c, sess)
	}
}

func HomeHandler(a *app.App, c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"title":      "Mental Math Trainer",
		"message":    "Choose your operation mode",
		"operations": operationViews(),
		"defaults":   a.Config.DefaultSettings(),
	})
}

func OperationsHandler(_ *app.App, c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": operationViews()})
}

func StateHandler(a *app.App, c *gin.Context) {
	respondState(c, currentSession(a, c))
}

func parseStart(a *app.App, c *gin.Context) (models.Operation, models.Settings, bool) {
	var req StartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		util.LogWarnCtx(c.Request.Context(), "Invalid start body: %v", err)
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidBody, "invalid request body")
		return "", models.Settings{}, false
	}
	op, err := problem.ParseOperation(req.Operation)
	if err != nil {
		util.LogWarnCtx(c.Request.Context(), "Invalid operation %q: %v", req.Operation, err)
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidOperation, "unknown operation")
		return "", models.Settings{}, false
	}

	settings := a.Config.DefaultSettings()
	if req.TotalQuestions != nil {
		settings.TotalQuestions = *req.TotalQuestions
	}
	if req.RevealIntervalMs != nil {
		settings.RevealIntervalMs = *req.RevealIntervalMs
	}
	return op, settings.Clamp(), true
}

func StartHandler(a *app.App, c *gin.Context) {
	op, settings, ok := parseStart(a, c)
	if !ok {
		return
	}
	sess := currentSession(a, c)
	respondResult(c, sess, "start", sess.Start(c.Request.Context(), op, settings))
}

func RestartHandler(a *app.App, c *gin.Context) {
	op, settings, ok := parseStart(a, c)
	if !ok {
		return
	}
	sess := currentSession(a, c)
	respondResult(c, sess, "restart", sess.Restart(c.Request.Context(), op, settings))
}

func AnswerHandler(a *app.App, c *gin.Context) {
	var req AnswerRequest
	if err := bindOptionalJSON(c, &req); err != nil || req.Answer == nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidBody, "answer is required")
		return
	}
	sess := currentSession(a, c)
	respondResult(c, sess, "answer", sess.SetAnswerText(*req.Answer))
}

// SubmitHandler scores the buffered answer. A body with an answer replaces
// the buffer first.
func SubmitHandler(a *app.App, c *gin.Context) {
	var req AnswerRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidBody, "invalid request body")
		return
	}
	sess := currentSession(a, c)
	if req.Answer != nil {
		if err := sess.SetAnswerText(*req.Answer); err != nil {
			respondResult(c, sess, "submit", err)
			return
		}
	}
	_, err := sess.SubmitAnswer(c.Request.Context())
	respondResult(c, sess, "submit", err)
}

func ResetHandler(a *app.App, c *gin.Context) {
	sess := currentSession(a, c)
	sess.Reset(c.Request.Context())
	respondState(c, sess)
}

// ForgetHandler drops the caller's session, cancelling its timers and
// streams, and expires the session cookie.
func ForgetHandler(a *app.App, c *gin.Context) {
	sessionID, err := c.Cookie(constants.SessionCookieName)
	if err == nil && sessionID != "" {
		a.Sessions.Remove(sessionID)
		util.LogInfoCtx(c.Request.Context(), "Forgot session: %s", sessionID)
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(constants.SessionCookieName, "", -1, "/", "", a.IsProduction(), true)
	c.JSON(http.StatusOK, gin.H{"status": "forgotten"})
}

func HealthzHandler(a *app.App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"env":             map[bool]string{true: "production", false: "development"}[a.IsProduction()],
		"active_sessions": a.Sessions.Len(),
		"active_limiters": a.LimiterCount(),
		"memory_alloc_mb": m.Alloc / 1024 / 1024,
		"memory_sys_mb":   m.Sys / 1024 / 1024,
		"memory_gc_count": m.NumGC,
		"uptime":          util.FormatUptime(time.Since(a.StartTime)),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
