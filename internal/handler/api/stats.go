package api

import (
	"errors"
	"net/http"
	"time"

	domrepo "ESStats/internal/domain/repository"
	"ESStats/internal/service/ratelimit"
	"ESStats/internal/usecase"
	"ESStats/pkg/cache"
	xhttp "ESStats/pkg/http"
	xlogger "ESStats/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StatsHandler exposes the read API over the bar store: import history,
// stored bars and window coverage.
type StatsHandler struct {
	logger   *xlogger.Logger
	store    domrepo.Store
	analyzer *usecase.Analyzer
	cache    cache.Service
	cacheTTL time.Duration
	limiter  *ratelimit.Limiter
}

func NewStatsHandler(
	logger *xlogger.Logger,
	store domrepo.Store,
	analyzer *usecase.Analyzer,
	cacheSvc cache.Service,
	cacheTTL time.Duration,
) *StatsHandler {
	return &StatsHandler{
		logger:   logger,
		store:    store,
		analyzer: analyzer,
		cache:    cacheSvc,
		cacheTTL: cacheTTL,
		limiter:  ratelimit.New(),
	}
}

func (h *StatsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api", h.rateLimit)
	g.GET("/imports", h.Imports)
	g.GET("/bars/1m", h.Bars1m)
	g.GET("/bars/30m", h.Bars30m)
	g.GET("/coverage", h.Coverage)
}

// rateLimit applies a per-client token bucket to the API group.
func (h *StatsHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP(), 20, 10) {
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (h *StatsHandler) Health(c echo.Context) error {
	if err := h.store.Health(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", xlogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, "store unavailable")
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// ImportsRequest lists recent import runs.
type ImportsRequest struct {
	Limit int `query:"limit" default:"50" validate:"gt=0,lte=500"`
}

func (h *StatsHandler) Imports(c echo.Context) error {
	req := &ImportsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	runs, err := h.store.RecentImports(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("imports query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, runs, int64(len(runs)))
}

// BarsRequest selects stored bars for a symbol over an inclusive
// trading-date range.
type BarsRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	From   int    `query:"from" validate:"required,gte=19000101,lte=99991231"`
	To     int    `query:"to" validate:"required,gte=19000101,lte=99991231"`
}

func (h *StatsHandler) Bars1m(c echo.Context) error {
	req := &BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bars, err := h.store.Bars1m(c.Request().Context(), req.Symbol, req.From, req.To)
	if err != nil {
		h.logger.Error("bars_1m query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *StatsHandler) Bars30m(c echo.Context) error {
	req := &BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bars, err := h.store.Bars30m(c.Request().Context(), req.Symbol, req.From, req.To)
	if err != nil {
		h.logger.Error("bars_30m query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *StatsHandler) Coverage(c echo.Context) error {
	req := &BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	key := cache.GenerateKeyWithParams("coverage", req.Symbol, req.From, req.To)
	if h.cache != nil {
		var cached usecase.CoverageReport
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			return xhttp.SuccessResponse(c, &cached)
		}
	}

	report, err := h.analyzer.Coverage(ctx, req.Symbol, req.From, req.To)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidRange) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		h.logger.Error("coverage failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, report, h.cacheTTL); err != nil {
			h.logger.Warn("coverage cache set failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, report)
}
