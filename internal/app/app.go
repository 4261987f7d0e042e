package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"meramandi/internal/alerting"
	"meramandi/internal/config"
	"meramandi/internal/fetcher"
	"meramandi/internal/httpapi"
	"meramandi/internal/ivr"
	"meramandi/internal/market"
	"meramandi/internal/metrics"
	"meramandi/internal/scheduler"
	"meramandi/internal/service"
	"meramandi/internal/storage"
	"meramandi/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Recorder
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Metrics: metrics.New(),
	}
}

func (a *App) newPriceFetcher() fetcher.PriceFetcher {
	cfg := a.Config.Prices
	if cfg.UseMock {
		a.Logger.Warn().Msg("prices.use_mock set; serving built-in mock price records")
		return fetcher.NewMock(nil, a.Logger)
	}
	gov := fetcher.NewGovAPI(fetcher.GovAPIOptions{
		BaseURL:    cfg.BaseURL,
		ResourceID: cfg.ResourceID,
		APIKey:     cfg.APIKey,
		Limit:      cfg.Limit,
		Timeout:    cfg.RequestTimeout,
		Retries:    cfg.Retries,
		Backoff:    cfg.Backoff,
		UserAgent:  cfg.UserAgent,
	}, a.Logger)
	gov.OnResult(a.Metrics.PriceFetch)
	return gov
}

func (a *App) newSender() alerting.Sender {
	cfg := a.Config.Twilio
	if cfg.Enabled {
		return alerting.NewTwilioSender(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber, cfg.APIBase, a.Config.Notifier.SendTimeout, a.Logger)
	}
	a.Logger.Warn().Msg("twilio disabled; SMS will be written to the log")
	return alerting.NewConsoleSender(a.Logger)
}

func (a *App) newMailer() alerting.Mailer {
	cfg := a.Config.SMTP
	if cfg.Enabled {
		return alerting.NewSMTPMailer(alerting.SMTPOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			Timeout:  cfg.Timeout,
		}, a.Logger)
	}
	return alerting.NewNopMailer(a.Logger)
}

func (a *App) matcher() market.Matcher {
	return market.Matcher{LocationWildcards: a.Config.Matching.LocationWildcards}
}

func (a *App) aggregator() market.Aggregator {
	return market.Aggregator{Policy: a.Config.ModalPolicy()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the database or fails when it is not configured.
func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured; cannot %s", purpose)
	}
	return store, closeStore, nil
}

func (a *App) newNotifier(sched *scheduler.Scheduler, prices fetcher.PriceFetcher, store *storage.Store, sender alerting.Sender) (*service.Notifier, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	return service.NewNotifier(service.NotifierOptions{
		Matcher:     a.matcher(),
		Aggregator:  a.aggregator(),
		Location:    loc,
		Workers:     a.Config.Notifier.Workers,
		SendTimeout: a.Config.Notifier.SendTimeout,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, sched, prices, store, sender, a.Metrics, a.Logger), nil
}

// Run serves the HTTP API and, when enabled, the in-process reminder loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "run")
	if err != nil {
		return err
	}
	defer closeStore()

	if a.Config.Database.AutoMigrate {
		if _, err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	prices := a.newPriceFetcher()
	sender := a.newSender()
	mailer := a.newMailer()
	snapshots := service.NewSnapshots(prices, store, a.matcher(), a.aggregator(), a.Logger)

	var sched *scheduler.Scheduler
	if a.Config.Scheduler.Enabled {
		loc, err := a.Config.Location()
		if err != nil {
			return err
		}
		sched = scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			Location:     loc,
		}, a.Logger)
	}
	notifier, err := a.newNotifier(sched, prices, store, sender)
	if err != nil {
		return err
	}

	callers := service.NewCallers(store, snapshots, sender, a.Logger)
	router := httpapi.NewRouter(httpapi.Deps{
		Prices:       prices,
		Alerts:       service.NewAlerts(store, store, store, snapshots, mailer, a.Logger),
		Accounts:     service.NewAccounts(store, snapshots, mailer, a.Config.Auth.TokenTTL, a.Config.Auth.EmailOTPTTL, a.Logger),
		Notifier:     notifier,
		Voice:        ivr.NewMachine(store, callers, a.Config.HTTP.VoiceActionPath, a.Logger),
		Sender:       sender,
		Snapshots:    store,
		DB:           store,
		Metrics:      a.Metrics,
		CronKey:      a.Config.HTTP.CronKey,
		VoicePath:    a.Config.HTTP.VoiceActionPath,
		CookieSecure: a.Config.Auth.CookieSecure,
		TokenTTL:     a.Config.Auth.TokenTTL,
		Version:      version.Version,
		Logger:       a.Logger,
	})
	if a.Config.HTTP.CronKey == "" {
		a.Logger.Warn().Msg("http.cron_key not set; cron endpoint disabled")
	}

	server := httpapi.NewServer(httpapi.ServerOptions{
		Addr:            a.Config.HTTP.Addr,
		ReadTimeout:     a.Config.HTTP.ReadTimeout,
		WriteTimeout:    a.Config.HTTP.WriteTimeout,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
	}, router, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if sched != nil {
		g.Go(func() error {
			return notifier.Start(gctx)
		})
	} else {
		a.Logger.Info().Msg("scheduler disabled; reminders run only via the cron endpoint")
	}

	a.Logger.Info().Str("addr", a.Config.HTTP.Addr).Str("version", version.Version).Msg("starting meramandi service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("meramandi service stopped")
	return nil
}

// Notify runs a single notification pass and prints its stats.
func (a *App) Notify(ctx context.Context, opts NotifyOptions) error {
	store, closeStore, err := a.requireStore(ctx, "notify")
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := a.newNotifier(nil, a.newPriceFetcher(), store, a.newSender())
	if err != nil {
		return err
	}

	now := time.Now()
	if opts.At != nil {
		now = *opts.At
	}
	stats, err := notifier.Run(ctx, now, opts.Force)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.requireStore(ctx, "migrate")
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		a.Logger.Info().Msg("schema up to date")
		return nil
	}
	a.Logger.Info().Strs("applied", applied).Msg("migrations applied")
	return nil
}

// TestSMS sends the fixed test message to phone.
func (a *App) TestSMS(ctx context.Context, phone string) error {
	to := alerting.NormalizePhone(phone)
	if to == "" {
		return errors.New("--phone is required")
	}
	err := a.newSender().Send(ctx, to, alerting.TestMessage)
	a.Metrics.SMS(err)
	if err != nil {
		return err
	}
	a.Logger.Info().Msg("test sms sent")
	return nil
}

// NotifyOptions configure a one-off notification pass.
type NotifyOptions struct {
	Force bool
	At    *time.Time
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	District  string
	Commodity string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// CaptureOptions configure the capture job.
type CaptureOptions struct {
	DryRun  bool
	Workers int
}

// PreviewOptions configure the preview command.
type PreviewOptions struct {
	Filter market.Filter
	Phone  string
	Send   bool
}
