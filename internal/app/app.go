package app

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chukwuka-eze/stablepay/internal/cache"
	"github.com/chukwuka-eze/stablepay/internal/chain"
	"github.com/chukwuka-eze/stablepay/internal/config"
	"github.com/chukwuka-eze/stablepay/internal/env"
	"github.com/chukwuka-eze/stablepay/internal/errHandler"
	"github.com/chukwuka-eze/stablepay/internal/helper"
	"github.com/chukwuka-eze/stablepay/internal/provisioner"
	"github.com/chukwuka-eze/stablepay/internal/repository"
	"github.com/chukwuka-eze/stablepay/internal/settlement"
	"github.com/chukwuka-eze/stablepay/internal/signer"
	"github.com/chukwuka-eze/stablepay/internal/smtp"
	"github.com/chukwuka-eze/stablepay/internal/stream"

	"github.com/joho/godotenv"
)

// Essential services and resources are exposed to the application
// this makes it possible for methods to have access to these items as and when they need them
type Application struct {
	Config       config.Config
	DB           repository.Database
	Logger       *slog.Logger
	Mailer       *smtp.Mailer
	WG           sync.WaitGroup
	errorHandler *errHandler.ErrorHandler
	helper       *helper.HelperRepository
	Kafka        *stream.KafkaStream
	Cache        cache.Store
	Vault        signer.Vault
	Engine       *settlement.Engine
	Provisioner  *provisioner.Provisioner
}

func NewApplication(logger *slog.Logger) (*Application, error) {
	if err := godotenv.Load(); err != nil {
		logger.Error("Error loading .env file", "error", err)
	}

	var cfg config.Config

	// config values are loaded from the .env file
	// Default values are provided for these items and these should strictly be values for development mode only
	// make sure no production-level value is exposed as default value here
	cfg.BaseURL = env.GetString("BASE_URL", "http://localhost:4444")
	cfg.HttpPort = env.GetInt("HTTP_PORT", 4444)

	cfg.Db.Dsn = env.GetString("DB_DSN", "user:pass@localhost:5432/db")
	cfg.Db.Automigrate = env.GetBool("DB_AUTOMIGRATE", true)

	cfg.Auth.SecretKey = env.GetString("AUTH_SECRET_KEY", "ajf5nx3qmp6zquevllxocxqvyz42ypuo")
	cfg.Auth.Issuer = env.GetString("AUTH_ISSUER", "https://auth.example.org")

	// server errors won't be sent via email if the NOTIFICATIONS_EMAIL wasn't set in the .env file
	cfg.Notifications.Email = env.GetString("NOTIFICATIONS_EMAIL", "")

	cfg.Smtp.Host = env.GetString("SMTP_HOST", "example.smtp.host")
	cfg.Smtp.Port = env.GetInt("SMTP_PORT", 25)
	cfg.Smtp.Username = env.GetString("SMTP_USERNAME", "example_username")
	cfg.Smtp.Password = env.GetString("SMTP_PASSWORD", "pa55word")
	cfg.Smtp.From = env.GetString("SMTP_FROM", "Example Name <no_reply@example.org>")

	cfg.Redis.Addr = env.GetString("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Db = env.GetInt("REDIS_DB", 0)

	cfg.Chain.RpcEndpoint = env.GetString("CHAIN_RPC_ENDPOINT", "https://api.devnet.solana.com")
	cfg.Chain.ConfirmTimeout = env.GetInt("CHAIN_CONFIRM_TIMEOUT", 45)
	cfg.Chain.KeystoreFile = env.GetString("CHAIN_KEYSTORE_FILE", "keystore.json")

	cfg.KafkaServers = env.GetString("KAFKA_SERVERS", "localhost:9092")

	db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	mailer, err := smtp.NewMailer(cfg.Smtp.Host, cfg.Smtp.Port, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.From)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	errorHandler := errHandler.New(cfg.Notifications.Email, mailer, logger)

	kafkaStream, err := stream.New(cfg.KafkaServers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event stream: %w", err)
	}

	cacheStore := cache.New(cfg.Redis.Addr, cfg.Redis.Db)

	vault, err := signer.NewLocalVault(cfg.Chain.KeystoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing vault: %w", err)
	}

	chainClient := chain.NewSolanaClient(cfg.Chain.RpcEndpoint)

	engine := settlement.New(&settlement.Engine{
		Transfers:      db.Transfer(),
		Resolver:       &settlement.Resolver{Accounts: db.Account()},
		Chain:          chainClient,
		Signers:        vault,
		Idem:           cacheStore,
		Events:         kafkaStream,
		Logger:         logger,
		ConfirmTimeout: time.Duration(cfg.Chain.ConfirmTimeout) * time.Second,
	})

	prov := &provisioner.Provisioner{
		Users:    db.User(),
		Accounts: db.Account(),
		Events:   kafkaStream,
		Logger:   logger,
	}

	app := &Application{
		Config:       cfg,
		DB:           db,
		Logger:       logger,
		Mailer:       mailer,
		errorHandler: errorHandler,
		Kafka:        kafkaStream,
		Cache:        cacheStore,
		Vault:        vault,
		Engine:       engine,
		Provisioner:  prov,
	}
	app.helper = helper.New(&app.Config.BaseURL, &app.WG, errorHandler)

	return app, nil
}

// Close releases everything the application holds open. Safe to call once,
// on the way out.
func (app *Application) Close() {
	if err := app.Cache.Close(); err != nil {
		app.Logger.Error("closing cache", "error", err)
	}
	if err := app.Vault.Close(); err != nil {
		app.Logger.Error("closing vault", "error", err)
	}
	app.Kafka.Close()
	if err := app.DB.Close(); err != nil {
		app.Logger.Error("closing database", "error", err)
	}
}
