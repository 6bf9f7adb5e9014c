// Package app wires configuration into the services shared by the API server
// and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/credential"
	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/domain/matching"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/infrastructure/crypto"
	"bankrecon/internal/infrastructure/openfinance"
	"bankrecon/internal/infrastructure/postgres"
	"bankrecon/internal/infrastructure/redislock"
	httphandlers "bankrecon/internal/interfaces/http"
	"bankrecon/internal/shared/auth"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB    *postgres.DB
	Redis *redis.Client

	// Handlers
	ConnectionHandler  *httphandlers.ConnectionHandler
	IngestionHandler   *httphandlers.IngestionHandler
	AuditHandler       *httphandlers.AuditHandler
	MatchingHandler    *httphandlers.MatchingHandler
	InstitutionHandler *httphandlers.InstitutionHandler

	// Auth
	JWT *auth.JWT

	// Services (for scheduler, listener and admin CLI)
	Connections *connection.Manager
	Pipeline    *ingestion.Pipeline
	Matching    *matching.Service
	Audit       *audit.Service
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	clk := clock.Real()

	db, err := postgres.New(cfg.Database.ConnectionString(), postgres.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("connected to database")

	deps := &Dependencies{DB: db}
	fail := func(err error) (*Dependencies, error) {
		deps.Close()
		return nil, err
	}

	vault, err := newVault(cfg.Encryption)
	if err != nil {
		return fail(err)
	}

	registry, err := loadRegistry(cfg.Credentials.PolicyFile)
	if err != nil {
		return fail(err)
	}
	log.Info().Int("institutions", len(registry.List())).Msg("credential policies loaded")

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	ruleRepo := postgres.NewRuleRepository(db)
	recordRepo := postgres.NewRecordRepository(db)
	matchRepo := postgres.NewMatchRepository(db)
	uow := postgres.NewUnitOfWork(db)

	// Provider
	provider := openfinance.NewClient(openfinance.Options{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RateLimit,
		Burst:         cfg.Provider.Burst,
		PageSize:      cfg.Ingestion.PageSize,
	})

	// Domain services
	auditService := audit.NewService(auditRepo, clk)

	manager := connection.NewManager(connectionRepo, registry, vault, connection.Backoff{
		Base: cfg.Retry.BaseInterval,
		Max:  cfg.Retry.MaxInterval,
	}, clk)
	manager.SetVerifier(provider)

	engine, err := matching.NewEngine(ruleRepo, recordRepo, matchingConfig(cfg.Matching), clk)
	if err != nil {
		return fail(err)
	}
	matchingService := matching.NewService(engine, ruleRepo, matchRepo, matchRepo, transactionRepo, auditService, clk)

	var guard ingestion.RunGuard = ingestion.NewMemoryGuard()
	if cfg.Redis.Enabled {
		client, err := redislock.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(err)
		}
		deps.Redis = client
		guard = redislock.New(client, cfg.Redis.LockTTL, log)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis run guard")
	}

	pipeline := ingestion.NewPipeline(
		manager,
		provider,
		uow,
		engine,
		guard,
		auditService,
		transaction.NewNormalizer(cfg.Ingestion.DefaultCurrency),
		clk,
		ingestion.Options{
			Workers:  cfg.Ingestion.FingerprintWorkers,
			MaxPages: cfg.Ingestion.MaxPages,
		},
	)

	deps.ConnectionHandler = httphandlers.NewConnectionHandler(manager)
	deps.IngestionHandler = httphandlers.NewIngestionHandler(pipeline, 0)
	deps.AuditHandler = httphandlers.NewAuditHandler(auditService)
	deps.MatchingHandler = httphandlers.NewMatchingHandler(matchingService, clk)
	deps.InstitutionHandler = httphandlers.NewInstitutionHandler(registry)
	deps.JWT = auth.NewJWT(cfg.JWT.Secret, auth.DefaultTTL, clk)
	deps.Connections = manager
	deps.Pipeline = pipeline
	deps.Matching = matchingService
	deps.Audit = auditService

	return deps, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

func newVault(cfg config.EncryptionConfig) (credential.Vault, error) {
	switch cfg.Backend {
	case "age":
		v, err := crypto.NewAgeVault(cfg.AgeIdentity)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize age vault: %w", err)
		}
		return v, nil
	default:
		v, err := crypto.NewEncryptor(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
		}
		return v, nil
	}
}

func loadRegistry(path string) (*credential.Registry, error) {
	if path == "" {
		return credential.DefaultRegistry()
	}
	return credential.LoadRegistryFile(path)
}

func matchingConfig(m config.MatchingConfig) matching.Config {
	return matching.Config{
		AmountWeight:    m.AmountWeight,
		DateWeight:      m.DateWeight,
		TextWeight:      m.TextWeight,
		HighThreshold:   m.HighThreshold,
		MediumThreshold: m.MediumThreshold,
		MinScore:        m.MinScore,
		TopN:            m.TopN,
		DateHalfLife:    m.DateHalfLife,
		DateWindow:      m.DateWindow,
		AmountTolerance: m.AmountTolerance,
	}
}
