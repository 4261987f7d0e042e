package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"meramandi/internal/alerting"
	"meramandi/internal/fetcher"
	"meramandi/internal/ivr"
	"meramandi/internal/market"
	"meramandi/internal/metrics"
	"meramandi/internal/service"
	"meramandi/internal/storage"
)

// AlertCreator stores web form subscriptions.
type AlertCreator interface {
	Create(ctx context.Context, in service.CreateAlertInput) (service.CreateAlertResult, error)
}

// AccountService issues and checks session tokens.
type AccountService interface {
	Register(ctx context.Context, in service.RegisterInput) (service.Session, error)
	Login(ctx context.Context, phone, password string) (service.Session, error)
	Authenticate(ctx context.Context, token string) (storage.Owner, error)
	Logout(ctx context.Context, token string) error
	RequestEmailOTP(ctx context.Context, email string) error
	VerifyEmailOTP(ctx context.Context, email, code string) (service.Session, error)
}

// NotificationRunner executes one reminder pass.
type NotificationRunner interface {
	Run(ctx context.Context, now time.Time, force bool) (service.RunStats, error)
}

// VoiceHandler advances an IVR call by one webhook request.
type VoiceHandler interface {
	Handle(ctx context.Context, in ivr.Input) (*ivr.Response, error)
}

// SnapshotReader loads stored market snapshots.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, id int64) (market.Snapshot, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps gathers everything the HTTP surface calls into. Nil services leave
// their routes answering 503.
type Deps struct {
	Prices       fetcher.PriceFetcher
	Alerts       AlertCreator
	Accounts     AccountService
	Notifier     NotificationRunner
	Voice        VoiceHandler
	Sender       alerting.Sender
	Snapshots    SnapshotReader
	DB           Pinger
	Metrics      *metrics.Recorder
	CronKey      string
	VoicePath    string
	CookieSecure bool
	TokenTTL     time.Duration
	Version      string
	Logger       zerolog.Logger
}

type handler struct {
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// NewRouter builds the gin engine with every API route mounted.
func NewRouter(deps Deps) *gin.Engine {
	if deps.VoicePath == "" {
		deps.VoicePath = "/api/twilio/voice"
	}
	h := &handler{
		deps:   deps,
		now:    time.Now,
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}

	r := gin.New()
	r.Use(requestLogger(h.logger, "/healthz", "/readyz", "/metrics"))
	r.Use(recovery(h.logger))

	r.GET("/healthz", h.live)
	r.GET("/readyz", h.ready)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/prices", h.prices)
		api.POST("/alerts", h.createAlert)
		api.POST("/test-sms", h.testSMS)
		api.GET("/cron/check-prices", h.checkPrices)
		api.POST("/cron/check-prices", h.checkPrices)
	}
	auth := api.Group("/auth")
	{
		auth.POST("/register", h.register)
		auth.POST("/login", h.login)
		auth.GET("/me", h.me)
		auth.POST("/logout", h.logout)
		auth.POST("/request-email-otp", h.requestEmailOTP)
		auth.POST("/verify-email-otp", h.verifyEmailOTP)
		auth.POST("/verify-otp", h.verifyEmailOTP)
	}
	r.POST(deps.VoicePath, h.voice)

	return r
}

// Server wraps the router in an http.Server with graceful shutdown.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// ServerOptions configure the listener.
type ServerOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// NewServer binds handler to the configured address.
func NewServer(opts ServerOptions, handler http.Handler, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
		},
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logger.With().Str("component", "http").Logger(),
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
