package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rezonia/nfse-issuer/internal/adapters/postgres"
	redisadapter "github.com/rezonia/nfse-issuer/internal/adapters/redis"
	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/config"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/events"
	"github.com/rezonia/nfse-issuer/internal/lifecycle"
	"github.com/rezonia/nfse-issuer/internal/metrics"
	"github.com/rezonia/nfse-issuer/internal/processor"
	"github.com/rezonia/nfse-issuer/internal/server"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

// app holds the wired pipeline and everything that must be closed with it
type app struct {
	pipeline    *processor.Pipeline
	metrics     *metrics.Metrics
	certificate signer.CertificateRef
	checks      map[string]server.HealthCheck
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the pipeline from cfg
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		metrics: metrics.New(),
		checks:  make(map[string]server.HealthCheck),
	}
	wired := false
	defer func() {
		if !wired {
			a.Close()
		}
	}()

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	trackerOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithObserver(a.metrics),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = publisher.Close() })
		trackerOpts = append(trackerOpts, lifecycle.WithObserver(events.NewNotifier(publisher, logger)))
		logger.Info("publishing state changes", slog.String("topic", cfg.Kafka.Topic))
	}
	tracker := lifecycle.NewTracker(store, trackerOpts...)

	env, err := cfg.EnvironmentValue()
	if err != nil {
		return nil, err
	}
	opts := []processor.Option{
		processor.WithBuilder(dps.NewBuilder(dps.WithEnvironment(env), dps.WithAppVersion(cfg.AppVersion))),
		processor.WithClassifier(authority.NewClassifier(cfg.Convention)),
		processor.WithTracker(tracker),
		processor.WithMetrics(a.metrics),
		processor.WithLogger(logger),
	}

	clientOpts := []authority.Option{
		authority.WithLedger(tracker),
		authority.WithLogger(logger),
	}
	if cfg.Certificate.File != "" {
		bundle, err := signer.LoadFile(cfg.Certificate.File, cfg.Certificate.Password)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		a.certificate = signer.CertificateRef{Thumbprint: bundle.Thumbprint()}
		if cfg.Certificate.Thumbprint != "" {
			a.certificate.Thumbprint = cfg.Certificate.Thumbprint
		}

		signerOpts := []signer.Option{signer.WithLogger(logger)}
		if cfg.Certificate.OCSP {
			signerOpts = append(signerOpts, signer.WithRevocationChecker(signer.NewOCSPChecker(), cfg.Certificate.OCSPSoftFail))
		}
		opts = append(opts, processor.WithSigner(signer.New(signer.NewMemorySource(bundle), signerOpts...)))
		if cfg.Certificate.MutualTLS {
			clientOpts = append(clientOpts, authority.WithTLSCertificate(bundle.TLSCertificate()))
		}
		logger.Debug("certificate loaded",
			slog.String("thumbprint", bundle.Thumbprint()),
			slog.String("subject", bundle.Certificate.Subject.CommonName))
	}

	client, err := authority.NewClient(cfg.Authority, clientOpts...)
	if err != nil {
		return nil, err
	}
	opts = append(opts, processor.WithTransmitter(client))

	opts = append(opts, processor.WithEmitTimeout(cfg.EmitTimeout))
	a.pipeline = processor.NewPipeline(opts...)
	wired = true
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) (lifecycle.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.checks["postgres"] = db.Health
		return postgres.NewStore(db), nil
	case config.DriverRedis:
		client, err := redisadapter.New(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks["redis"] = client.Health
		return redisadapter.NewStore(client.Client, cfg.Store.Redis.KeyPrefix), nil
	default:
		return lifecycle.NewMemoryStore(), nil
	}
}
