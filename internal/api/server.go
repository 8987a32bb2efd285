// Package api serves the policy document and the ledger to the dashboard.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type PolicyStore interface {
	Snapshot(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
	Put(ctx context.Context, p *config.GuildPolicy) (*config.GuildPolicy, error)
}

// Ledger is the read and appeal surface of *ledger.Ledger.
type Ledger interface {
	GetInfraction(ctx context.Context, id string) (*models.Infraction, error)
	ListInfractions(ctx context.Context, f models.InfractionFilter) ([]*models.Infraction, error)
	Reverse(ctx context.Context, id, reason string) (*models.Infraction, error)
	FileAppeal(ctx context.Context, infractionID string, userID util.Snowflake, text string) (*models.Appeal, error)
	GetAppeal(ctx context.Context, id string) (*models.Appeal, error)
	ListAppeals(ctx context.Context, f models.AppealFilter) ([]*models.Appeal, error)
	ResolveAppeal(ctx context.Context, appealID string, outcome models.AppealStatus, moderatorID util.Snowflake) (*models.Appeal, *models.Infraction, error)
	ListNotes(ctx context.Context, guildID util.Snowflake, limit int) ([]*models.AuditNote, error)
}

// StatusSource reports loop liveness, normally the watchdog.
type StatusSource interface {
	Status() map[string]bool
}

type Server struct {
	policies PolicyStore
	ledger   Ledger
	status   StatusSource
	workers  func() int
	token    string
	metrics  fasthttp.RequestHandler
	started  time.Time
	srv      *fasthttp.Server
}

func NewServer(policies PolicyStore, ledger Ledger, token string) *Server {
	s := &Server{
		policies: policies,
		ledger:   ledger,
		token:    token,
		metrics:  metrics.Handler(),
		started:  time.Now(),
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "openguard",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// SetHealth attaches the liveness sources shown on /healthz.
func (s *Server) SetHealth(status StatusSource, workers func() int) {
	s.status = status
	s.workers = workers
}

// Serve blocks on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.srv.ShutdownWithContext(context.Background())
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logging.Info("api listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Handler routes the API. /healthz and /metrics skip the bearer check.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.RedirectTrailingSlash = false
	r.PanicHandler = func(ctx *fasthttp.RequestCtx, p interface{}) {
		logging.Error("api handler panic", "path", string(ctx.Path()), "panic", p)
		writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
	r.NotFound = notFound
	r.MethodNotAllowed = func(ctx *fasthttp.RequestCtx) {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", s.metrics)

	r.GET("/guilds/{guild}/policy", s.auth(s.guild(s.getPolicy)))
	r.PUT("/guilds/{guild}/policy", s.auth(s.guild(s.putPolicy)))
	r.GET("/guilds/{guild}/infractions", s.auth(s.guild(s.listInfractions)))
	r.GET("/guilds/{guild}/appeals", s.auth(s.guild(s.listAppeals)))
	r.GET("/guilds/{guild}/audit", s.auth(s.guild(s.listNotes)))

	r.GET("/infractions/{id}", s.auth(s.id(s.getInfraction)))
	r.POST("/infractions/{id}/reverse", s.auth(s.id(s.reverseInfraction)))
	r.POST("/infractions/{id}/appeals", s.auth(s.id(s.fileAppeal)))
	r.GET("/appeals/{id}", s.auth(s.id(s.getAppeal)))
	r.POST("/appeals/{id}/resolve", s.auth(s.id(s.resolveAppeal)))

	return r.Handler
}

func (s *Server) auth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !s.authorized(ctx) {
			writeError(ctx, fasthttp.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(ctx)
	}
}

func (s *Server) authorized(ctx *fasthttp.RequestCtx) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(string(ctx.Request.Header.Peek("Authorization")), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) guild(next func(*fasthttp.RequestCtx, util.Snowflake)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		raw, _ := ctx.UserValue("guild").(string)
		guildID, err := util.ParseSnowflake(raw)
		if err != nil || guildID.IsZero() {
			writeError(ctx, fasthttp.StatusBadRequest, "invalid guild id")
			return
		}
		next(ctx, guildID)
	}
}

func (s *Server) id(next func(*fasthttp.RequestCtx, string)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, _ := ctx.UserValue("id").(string)
		next(ctx, id)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "encode response")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func notFound(ctx *fasthttp.RequestCtx) {
	writeError(ctx, fasthttp.StatusNotFound, "no such route")
}

// writeLedgerError maps ledger sentinels onto status codes.
func writeLedgerError(ctx *fasthttp.RequestCtx, err error) {
	var pue *models.PolicyUnavailableError
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAppealExists):
		writeError(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotAppealable):
		writeError(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pue):
		writeError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
	default:
		logging.Error("api request failed", "path", string(ctx.Path()), "err", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}
