package handlers

import (
	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	app "mentalmath/internal/app"
	constants "mentalmath/internal/constants"
	util "mentalmath/internal/util"
)

func wrap(a *app.App, h func(*app.App, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h(a, c)
	}
}

func NewRouter(a *app.App) *gin.Engine {
	router := gin.Default()

	router.Use(RequestIDMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CSRFMiddleware(a))
	router.Use(ValidateCSRFMiddleware())
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedPaths([]string{constants.RouteEvents, constants.RouteWebSocket, constants.RouteMetrics})))
	router.Use(CacheHeadersMiddleware(a))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	limited := RateLimitMiddleware(a)

	router.GET(constants.RouteHome, wrap(a, HomeHandler))
	router.GET(constants.RouteOperations, wrap(a, OperationsHandler))
	router.GET(constants.RouteState, wrap(a, StateHandler))
	router.POST(constants.RouteStart, limited, wrap(a, StartHandler))
	router.POST(constants.RouteRestart, limited, wrap(a, RestartHandler))
	router.POST(constants.RouteAnswer, wrap(a, AnswerHandler))
	router.POST(constants.RouteSubmit, limited, wrap(a, SubmitHandler))
	router.POST(constants.RouteReset, limited, wrap(a, ResetHandler))
	router.DELETE(constants.RouteSession, limited, wrap(a, ForgetHandler))
	router.GET(constants.RouteEvents, wrap(a, EventsHandler))
	router.GET(constants.RouteWebSocket, wrap(a, WebSocketHandler))
	router.GET(constants.RouteHealthz, wrap(a, HealthzHandler))
	router.GET(constants.RouteMetrics, gin.WrapH(a.Metrics.Handler()))

	return router
}
