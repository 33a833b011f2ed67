package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/cache"
	"github.com/freightwise/logistics-cli/internal/dedup"
	"github.com/freightwise/logistics-cli/internal/enrich"
	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/notify"
	"github.com/freightwise/logistics-cli/internal/pipeline"
	"github.com/freightwise/logistics-cli/internal/provider"
	"github.com/freightwise/logistics-cli/internal/quote"
	"github.com/freightwise/logistics-cli/internal/resilience"
	"github.com/freightwise/logistics-cli/internal/store"
	"github.com/freightwise/logistics-cli/internal/synth"
	"github.com/freightwise/logistics-cli/pkg/airtable"
	anthropicpkg "github.com/freightwise/logistics-cli/pkg/anthropic"
	"github.com/freightwise/logistics-cli/pkg/eaeu"
	"github.com/freightwise/logistics-cli/pkg/qichacha"
	"github.com/freightwise/logistics-cli/pkg/telegram"
	"github.com/freightwise/logistics-cli/pkg/tnved"
)

// Env bundles the wired pipeline and its collaborators for commands.
type Env struct {
	Store    store.Store
	Cache    *cache.ResponseCache
	Caller   *provider.Caller
	Pipeline *pipeline.Pipeline
	Telegram telegram.Client
}

// Close releases held resources.
func (e *Env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close failed", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "logistics.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv wires every collaborator the pipeline needs from config.
func initEnv(ctx context.Context) (*Env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakers := resilience.NewProviderBreakers(func(kind model.ProviderKind) resilience.BreakerConfig {
		t := cfg.Providers.Tuning(string(kind))
		return resilience.BreakerConfig{
			FailureThreshold: t.BreakerThreshold,
			Cooldown:         t.BreakerCooldown,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("circuit state change",
					zap.String("provider", string(kind)),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}
	})

	tnvedClient := tnved.NewClient(cfg.TNVED.Key,
		tnved.WithBaseURL(cfg.TNVED.BaseURL),
		tnved.WithKeden(cfg.TNVED.KedenKey, cfg.TNVED.KedenBaseURL),
	)
	eaeuClient := eaeu.NewClient(eaeu.WithBaseURL(cfg.EAEU.BaseURL))
	qichachaClient := qichacha.NewClient(cfg.Qichacha.Key, cfg.Qichacha.Secret,
		qichacha.WithBaseURL(cfg.Qichacha.BaseURL),
	)

	responseCache := cache.New()
	caller := provider.NewCaller(cfg.Providers, responseCache, breakers,
		provider.NewClassifyAdapter(tnvedClient, cfg.TNVED.MaxCandidates),
		provider.NewSupplierAdapter(qichachaClient),
		provider.NewTariffAdapter(eaeuClient, st),
	)

	quotes := quote.NewEngine()
	if cfg.Quote.TariffFile != "" {
		if err := quotes.LoadTariffFile(cfg.Quote.TariffFile); err != nil {
			st.Close()
			return nil, err
		}
	}

	synthesizer := synth.New(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic,
		cfg.Providers.Synthesis,
		breakers,
		quotes,
	)

	coordinator := enrich.NewCoordinator(caller, enrich.RequiredKinds(cfg.Pipeline.Required))
	registry := dedup.NewRegistry(cfg.Pipeline.GracePeriod)

	var crm airtable.Client
	if cfg.Airtable.Key != "" && cfg.Airtable.BaseID != "" {
		crm = airtable.NewClient(cfg.Airtable.Key, cfg.Airtable.BaseID,
			airtable.WithBaseURL(cfg.Airtable.BaseURL),
			airtable.WithRateLimit(cfg.Airtable.RPS),
		)
	}

	var tgClient telegram.Client
	var notifier pipeline.Notifier
	if cfg.Telegram.Token != "" {
		tgClient = telegram.NewClient(cfg.Telegram.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL))
		if cfg.Telegram.ChatID != 0 {
			notifier = notify.NewTelegramNotifier(tgClient, cfg.Telegram.ChatID)
		}
	}

	pipe := pipeline.New(registry, coordinator, synthesizer, st, crm, cfg.Airtable.Table, notifier, cfg.Pipeline.RunDeadline)

	return &Env{
		Store:    st,
		Cache:    responseCache,
		Caller:   caller,
		Pipeline: pipe,
		Telegram: tgClient,
	}, nil
}
