package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	s3blob "github.com/alanyoungcy/optionsim/internal/blob/s3"
	"github.com/alanyoungcy/optionsim/internal/cache/redis"
	"github.com/alanyoungcy/optionsim/internal/config"
	"github.com/alanyoungcy/optionsim/internal/domain"
	"github.com/alanyoungcy/optionsim/internal/engine"
	"github.com/alanyoungcy/optionsim/internal/execution"
	"github.com/alanyoungcy/optionsim/internal/exitrules"
	"github.com/alanyoungcy/optionsim/internal/feed"
	"github.com/alanyoungcy/optionsim/internal/greeks"
	"github.com/alanyoungcy/optionsim/internal/notify"
	"github.com/alanyoungcy/optionsim/internal/pricing"
	"github.com/alanyoungcy/optionsim/internal/risk"
	"github.com/alanyoungcy/optionsim/internal/server"
	"github.com/alanyoungcy/optionsim/internal/server/handler"
	"github.com/alanyoungcy/optionsim/internal/store/postgres"
)

// Dependencies bundles everything the application run loop needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine   *engine.Engine
	Ingestor *feed.Ingestor
	Feed     *feed.MarketDataWSFeed // nil when no ws_url is configured
	Server   *server.Server         // nil when the API server is disabled

	// Egress
	SignalBus  domain.SignalBus          // nil without Redis
	PriceCache domain.PriceCache         // nil without Redis
	Closed     domain.ClosedPositionStore // nil without Postgres
	Audit      domain.AuditStore          // nil without Postgres
	Archiver   *s3blob.SessionArchiver    // nil without S3 and Postgres

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (optional persistence) ---
	if cfg.PostgresEnabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Closed = postgres.NewClosedPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis (optional event bus and price cache) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
	}

	// --- S3 blob storage (optional session archives) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if deps.Closed != nil {
			deps.Archiver = s3blob.NewSessionArchiver(
				s3blob.NewWriter(s3Client),
				deps.Closed,
				deps.Audit,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine and feed ---
	sim := execution.NewSimulator(rand.New(rand.NewSource(time.Now().UnixNano())))
	tracker := greeks.NewTracker(pricing.NewHeuristicModel(), logger)
	evaluator := exitrules.NewEvaluator(exitrules.Config{
		ProfitTargetPct:    cfg.Exit.ProfitTargetPct,
		StopLossPct:        cfg.Exit.StopLossPct,
		TrailingStopPct:    cfg.Exit.TrailingStopPct,
		TimeDecayMinDTE:    cfg.Exit.TimeDecayMinDTE,
		ExpirationWindowHr: cfg.Exit.ExpirationWindowHr,
	}, logger)
	governor := risk.NewGovernor(risk.GovernorConfig{
		MaxPortfolioHeat:    cfg.Risk.MaxPortfolioHeat,
		MaxPositionHeat:     cfg.Risk.MaxPositionHeat,
		MaxTickerExposure:   cfg.Risk.MaxTickerExposure,
		MinPositionSize:     cfg.Risk.MinPositionSize,
		MaxConsecutiveLoss:  cfg.Risk.MaxConsecutiveLoss,
		DrawdownDefensive:   cfg.Risk.DrawdownDefensive,
		EmergencyHeat:       cfg.Risk.EmergencyHeat,
		DefensiveSizeFactor: cfg.Risk.DefensiveSizeFactor,
	}, logger)

	eng := engine.New(engine.Config{
		InitialBalance:    cfg.Engine.InitialBalance,
		AutoExit:          cfg.Engine.AutoExit,
		MinExitConfidence: cfg.Engine.MinExitConfidence,
	}, sim, tracker, evaluator, risk.NewAggregator(), governor, logger)

	eng.AttachEgress(deps.SignalBus, deps.Closed, deps.Audit)
	if len(senders) > 0 {
		eng.SetAlertSink(notify.NewExitAlerter(deps.Notifier))
	}
	deps.Engine = eng

	deps.Ingestor = feed.NewIngestor(eng, cfg.Feed.SweepInterval.Duration, logger)
	if cfg.Feed.WsURL != "" {
		deps.Feed = feed.NewMarketDataWSFeed(cfg.Feed.WsURL, cfg.Feed.Tickers, deps.Ingestor, deps.PriceCache, logger)
	}

	// --- HTTP API ---
	if cfg.Server.Enabled {
		deps.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(),
			Account:   handler.NewAccountHandler(eng, logger),
			Positions: handler.NewPositionHandler(eng, logger),
			Trades:    handler.NewTradeHandler(eng, logger),
		}, logger)
	}

	return deps, cleanup, nil
}
