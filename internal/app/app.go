// Package app assembles the process: configuration in, wired components out,
// one Run call that blocks until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/tradewell-labs/updownbot/internal/blob/s3"
	"github.com/tradewell-labs/updownbot/internal/cache/redis"
	"github.com/tradewell-labs/updownbot/internal/config"
	"github.com/tradewell-labs/updownbot/internal/crypto"
	"github.com/tradewell-labs/updownbot/internal/domain"
	"github.com/tradewell-labs/updownbot/internal/engine"
	"github.com/tradewell-labs/updownbot/internal/feed"
	"github.com/tradewell-labs/updownbot/internal/notify"
	"github.com/tradewell-labs/updownbot/internal/platform/polymarket"
	"github.com/tradewell-labs/updownbot/internal/report"
	"github.com/tradewell-labs/updownbot/internal/store/postgres"
)

// seriesLen is the nominal lifetime of one up/down market in the series.
const seriesLen = 15 * time.Minute

// positionCacheTTL bounds how long a mirrored position outlives its last
// write.
const positionCacheTTL = 30 * time.Minute

// retentionInterval is how often the archiver prunes aged records.
const retentionInterval = 6 * time.Hour

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	redisClient *redis.Client
	pgClient    *postgres.Client
	bookFeed    *feed.BookFeed
	momentum    *feed.ReversalFeed
	reporter    *report.Reporter
	archiver    *s3blob.Archiver
	engine      *engine.Engine
}

// New wires the application from config. It connects to Redis and PostgreSQL,
// runs migrations, and constructs every component, but starts nothing; Run
// does that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	// ── Infrastructure ──
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	a.redisClient = redisClient

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
		a.closePartial()
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.pgClient = pgClient
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			a.closePartial()
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
	}

	settlements := postgres.NewSettlementStore(pgClient.Pool())
	fills := postgres.NewFillStore(pgClient.Pool())
	snapshots := postgres.NewSnapshotStore(pgClient.Pool())

	bus := redis.NewSignalBus(redisClient)
	lease := redis.NewLease(redisClient, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL.Duration)
	positions := redis.NewPositionCache(redisClient, positionCacheTTL)

	// ── Blob storage (optional) ──
	var blobs domain.BlobWriter
	if cfg.Report.ArchiveEnabled {
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
			a.closePartial()
			return nil, fmt.Errorf("app: connect s3: %w", err)
		}
		writer := s3blob.NewWriter(s3Client)
		blobs = writer
		a.archiver = s3blob.NewArchiver(writer, settlements, fills, logger)
	}

	// ── Notifications ──
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var alerts report.Alerter
	if len(senders) > 0 {
		alerts = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// ── Reporting ──
	a.reporter = report.NewReporter(
		report.Config{
			SnapshotBatchSize: cfg.Report.SnapshotBatchSize,
			FlushInterval:     cfg.Report.FlushInterval.Duration,
		},
		report.Sinks{
			Settlements: settlements,
			Fills:       fills,
			Snapshots:   snapshots,
			Mirror:      positions,
			Bus:         bus,
			Blobs:       blobs,
			Alerts:      alerts,
		},
		logger,
	)

	// ── Market data ──
	a.bookFeed = feed.NewBookFeed(strings.TrimRight(cfg.Polymarket.WsHost, "/")+"/ws/market", logger)
	a.momentum = feed.NewReversalFeed(
		cfg.Binance.WsHost,
		cfg.Engine.Assets,
		cfg.Engine.ReversalWindow.Duration,
		cfg.Engine.ReversalThresholdPct,
		logger,
	)

	// ── Exchange clients ──
	orders, signerAddr, err := buildOrderClient(cfg, logger)
	if err != nil {
		a.closePartial()
		return nil, err
	}
	gate := engine.NewGatedOrderClient(orders)

	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Engine.Assets, seriesLen, logger)
	ledger := polymarket.NewDataClient(cfg.Polymarket.DataHost, signerAddr, cfg.Engine.ReconcileInterval.Duration, logger)

	// ── Engine ──
	mode, err := parseMode(cfg.Mode)
	if err != nil {
		a.closePartial()
		return nil, err
	}

	registry := engine.NewRegistry(
		gamma, ledger, a.bookFeed, a.reporter,
		cfg.Engine.MaxMarkets,
		cfg.Engine.MinTimeToExpiry.Duration,
		cfg.Engine.Guard.MaxUnpairedShares,
		logger,
	)
	reconciler := engine.NewReconciler(ledger, cfg.Engine.DriftEpsilon, cfg.Engine.ReconcileInterval.Duration, logger)
	tracker := engine.NewPairTracker(
		engine.PairingParams{
			TargetCombinedPrice: cfg.Engine.Pairing.TargetCombinedPrice,
			MinMakerPrice:       cfg.Engine.Pairing.MinMakerPrice,
			LotSize:             cfg.Engine.Pairing.LotSize,
			MaxPendingPairs:     cfg.Engine.Pairing.MaxPendingPairs,
			HedgeTimeout:        cfg.Engine.Pairing.HedgeTimeout.Duration,
			ObservationDelay:    cfg.Engine.Pairing.ObservationDelay.Duration,
			ClosedGracePeriod:   cfg.Engine.Pairing.ClosedGracePeriod.Duration,
		},
		gate, a.bookFeed, a.momentum, a.reporter, logger,
	)
	guard := engine.NewExposureGuard(
		engine.GuardParams{
			CircuitBreakerEnabled: cfg.Engine.Guard.CircuitBreakerEnabled,
			RebalancerEnabled:     cfg.Engine.Guard.RebalancerEnabled,
			EmergencyEnabled:      cfg.Engine.Guard.EmergencyEnabled,
			MaxUnpairedShares:     cfg.Engine.Guard.MaxUnpairedShares,
			MaxUnpairedNotional:   cfg.Engine.Guard.MaxUnpairedNotional,
			EmergencyMinUnpaired:  cfg.Engine.Guard.EmergencyMinUnpaired,
		},
		gate, a.bookFeed, a.reporter, logger,
	)
	syncer := engine.NewOrderSynchronizer(
		engine.GridParams{
			Levels:       cfg.Engine.Grid.Levels,
			SpacingTicks: cfg.Engine.Grid.SpacingTicks,
			QuoteSize:    cfg.Engine.Grid.QuoteSize,
			MaxCombined:  cfg.Engine.Grid.MaxCombined,
		},
		gate, a.bookFeed, logger,
	)

	a.engine = engine.New(
		engine.Params{
			Mode:              mode,
			DryRun:            cfg.DryRun,
			TickInterval:      cfg.Engine.TickInterval.Duration,
			TickCooldown:      cfg.Engine.TickCooldown.Duration,
			DiscoveryInterval: cfg.Engine.DiscoveryInterval.Duration,
			HeartbeatInterval: cfg.Report.HeartbeatInterval.Duration,
			RenewInterval:     cfg.Redis.RenewInterval.Duration,
		},
		registry, reconciler, tracker, guard, syncer,
		gate, gate, lease, a.reporter, bus, a.bookFeed, logger,
	)

	return a, nil
}

// buildOrderClient returns the order client for the configured mode: the
// signed CLOB client for live trading, the in-memory simulator otherwise.
// The second return is the wallet address used as the position-ledger user;
// it is empty in dry-run and monitor modes.
func buildOrderClient(cfg *config.Config, logger *slog.Logger) (domain.OrderClient, string, error) {
	if cfg.DryRun || strings.EqualFold(cfg.Mode, "monitor") {
		return engine.NewDryRunOrderClient(logger), "", nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, "", fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, "", fmt.Errorf("app: create signer: %w", err)
	}
	hmacAuth := &crypto.HMACAuth{
		Key:        cfg.Polymarket.ApiKey,
		Secret:     cfg.Polymarket.ApiSecret,
		Passphrase: cfg.Polymarket.ApiPassphrase,
	}
	client := polymarket.NewClobClient(
		cfg.Polymarket.ClobHost, signer, hmacAuth,
		cfg.Polymarket.SignatureType, cfg.Polymarket.RequestsPerSec,
	)
	return client, signer.Address().Hex(), nil
}

func parseMode(s string) (engine.Mode, error) {
	switch strings.ToLower(s) {
	case "trade":
		return engine.ModeTrade, nil
	case "grid":
		return engine.ModeGrid, nil
	case "monitor":
		return engine.ModeMonitor, nil
	default:
		return "", fmt.Errorf("app: unknown mode %q", s)
	}
}

// Run starts the feeds, the reporter, the retention loop, and the engine, and
// blocks until ctx is cancelled or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	if err := a.momentum.Start(ctx); err != nil {
		// Momentum is advisory; reversal checks read FLAT until it connects.
		a.logger.Warn("momentum feed failed to start", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.reporter.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })
	if a.archiver != nil {
		g.Go(func() error { return a.retentionLoop(gctx) })
	}

	err := g.Wait()
	a.close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// retentionLoop periodically archives and prunes aged reporting records.
func (a *App) retentionLoop(ctx context.Context) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Report.RetentionDays)
		if err := a.archiver.Run(ctx, cutoff); err != nil {
			a.logger.Error("retention pass failed", slog.String("error", err.Error()))
		}
	}
}

// close tears everything down in reverse dependency order.
func (a *App) close() {
	if err := a.bookFeed.Close(); err != nil {
		a.logger.Warn("book feed close failed", slog.String("error", err.Error()))
	}
	if err := a.momentum.Close(); err != nil {
		a.logger.Warn("momentum feed close failed", slog.String("error", err.Error()))
	}
	a.closePartial()
}

// closePartial releases the infrastructure connections; safe to call with
// only some of them established.
func (a *App) closePartial() {
	if a.pgClient != nil {
		a.pgClient.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	}
}

// NewLogger builds the process-wide structured logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
