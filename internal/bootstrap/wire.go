package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/Slipstreamm/openguard/internal/api"
	"github.com/Slipstreamm/openguard/internal/bot"
	"github.com/Slipstreamm/openguard/internal/commands"
	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/correlator"
	"github.com/Slipstreamm/openguard/internal/database"
	"github.com/Slipstreamm/openguard/internal/decision"
	"github.com/Slipstreamm/openguard/internal/detectors"
	"github.com/Slipstreamm/openguard/internal/dispatcher"
	"github.com/Slipstreamm/openguard/internal/ledger"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/notifier"
	"github.com/Slipstreamm/openguard/internal/watchdog"
)

type Components struct {
	DB       *database.Database
	Policies *config.PolicyStore
	Ledger   *ledger.Ledger
	Sweeper  *ledger.ExpirySweeper

	HTTPPool    *dispatcher.HTTPPool
	RateLimiter *dispatcher.RateLimitMonitor
	REST        *dispatcher.RESTClient
	Tokens      dispatcher.TokenStore
	Executor    *dispatcher.Executor
	Dispatcher  *dispatcher.Dispatcher

	Supervisor *correlator.Supervisor
	Notifier   *notifier.Notifier
	Commands   *commands.Handler
	Bot        *bot.Session
	API        *api.Server
	Watchdog   *watchdog.Watchdog

	decisionLog io.Closer
}

func Wire(ctx context.Context, b *Bootstrap) error {
	cfg := b.Config
	c := &Components{}
	b.Components = c

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	c.DB = db
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logging.Info("database ready", "driver", db.Driver())

	c.Policies = config.NewPolicyStore(database.NewPolicyRepo(db), 4096, cfg.Engine.PolicyCacheTTL.Std())
	c.Ledger = ledger.New(database.NewLedgerRepo(db), nil, nil)
	c.Sweeper = ledger.NewExpirySweeper(c.Ledger, cfg.Enforcement.ExpirySweep.Std())

	tokens, err := newTokenStore(cfg)
	if err != nil {
		return err
	}
	c.Tokens = tokens

	c.HTTPPool = dispatcher.NewHTTPPool(cfg.Enforcement.HTTPPoolSize)
	c.RateLimiter = dispatcher.NewRateLimitMonitor(cfg.Enforcement.RequestRate)
	c.REST = dispatcher.NewRESTClient(cfg.Enforcement.APIBaseURL, cfg.Bot.Token, c.HTTPPool, c.RateLimiter)
	c.Executor = dispatcher.NewExecutor(c.REST, c.Ledger, c.Policies, tokens,
		dispatcher.RetryPolicyFromConfig(cfg.Enforcement), nil)
	c.Ledger.SetReverter(c.Executor)
	c.Dispatcher = dispatcher.NewDispatcher(c.Executor, cfg.Enforcement.Workers, cfg.Enforcement.QueueSize)

	var classifier detectors.Classifier = detectors.NewPhraseClassifier(cfg.Detection.SelfHarmPhrases)
	if cfg.Detection.ClassifierURL != "" {
		classifier = detectors.NewHTTPClassifier(cfg.Detection.ClassifierURL)
	}
	extractor := detectors.NewExtractor(cfg.Detection, classifier, cfg.Engine.ClassifierTimeout.Std())
	c.Supervisor = correlator.NewSupervisor(correlator.OptionsFromConfig(cfg), extractor, c.Policies, c.Dispatcher, c.Ledger, nil)

	if cfg.Logging.DecisionPath != "" {
		w, err := logging.OpenAsyncFile(cfg.Logging.DecisionPath, 4096, rotation(cfg.Logging))
		if err != nil {
			return fmt.Errorf("decision log: %w", err)
		}
		c.decisionLog = w
		c.Supervisor.SetDecisionLogger(decision.NewDecisionLogger(w))
	}

	if cfg.Bot.Token != "" {
		session, err := bot.NewSession(cfg.Bot.Token, c.Supervisor, c.Policies)
		if err != nil {
			return err
		}
		c.Bot = session
		c.Notifier = notifier.New(session.Discord(), nil)
		c.Notifier.SetPolicies(c.Policies)
		c.Supervisor.SetPresenter(c.Notifier)
		c.Executor.SetAlerter(c.Notifier)
		c.Ledger.SetAppealNotifier(c.Notifier)
		session.SetAppeals(c.Ledger)

		c.Commands = commands.NewHandler(c.Policies, c.Ledger)
		c.Commands.Workers = c.Supervisor.Workers
		session.Discord().AddHandler(c.Commands.HandleReady)
		session.Discord().AddHandler(c.Commands.HandleInteraction)
	} else {
		logging.Warn("no bot token configured, gateway disabled")
	}

	c.Watchdog = watchdog.NewWatchdog(0)
	c.Watchdog.Register(c.Supervisor.Health)
	c.Watchdog.Register(c.Dispatcher.Health)
	c.Watchdog.Register(c.Sweeper.Health)

	c.API = api.NewServer(c.Policies, c.Ledger, cfg.API.Token)
	c.API.SetHealth(c.Watchdog, c.Supervisor.Workers)

	logging.Info("component wiring complete", "workers", cfg.Enforcement.Workers, "shared_tokens", cfg.Redis.URL != "")
	return nil
}

// newTokenStore shares claims through redis when several bot processes run
// against one guild set; otherwise claims live in process memory.
func newTokenStore(cfg *config.Config) (dispatcher.TokenStore, error) {
	ttl := cfg.Enforcement.TokenCacheTTL.Std()
	if cfg.Redis.URL == "" {
		return dispatcher.NewMemoryTokenStore(65536, ttl), nil
	}
	store, err := dispatcher.NewRedisTokenStore(cfg.Redis.URL, ttl)
	if err != nil {
		return nil, err
	}
	logging.Info("using redis token store")
	return store, nil
}
