package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/config"
	contactrepo "github.com/Ramsey-B/clover/internal/repositories/contact"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/identify"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		AppName:    cfg.AppName,
		Level:      cfg.LogLevel,
		PrettyLogs: cfg.PrettyLogs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  cfg.AppName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPProtocol: cfg.OTLPProtocol,
		OTLPInsecure: cfg.OTLPInsecure,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		os.Exit(1)
	}

	app := &application{cfg: cfg, logger: logger}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&databaseDependency{app: app})
	if cfg.KafkaProducerEnabled {
		boot.AddDependency(&kafkaDependency{app: app})
	}
	boot.AddDependency(&httpServerDependency{app: app})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to flush traces")
	}
}

// application holds the process-scoped handles the dependencies construct
// and share. Everything is created at startup and passed down explicitly.
type application struct {
	cfg      *config.Config
	logger   logging.Logger
	db       database.DB
	producer *kafka.Producer
	server   *echo.Echo
	checker  *health.Checker
}

type databaseDependency struct {
	app *application
}

func (d *databaseDependency) GetName() string     { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, d.app.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, db); err != nil {
		return err
	}

	d.app.db = db
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.app.db == nil {
		return nil
	}
	return d.app.db.Close()
}

type kafkaDependency struct {
	app *application
}

func (d *kafkaDependency) GetName() string     { return "kafka-producer" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, d.app.logger)
	return nil
}

func (d *kafkaDependency) Stop(ctx context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

type httpServerDependency struct {
	app *application
}

func (d *httpServerDependency) GetName() string { return "http-server" }

func (d *httpServerDependency) DependsOn() []string {
	deps := []string{"database"}
	if d.app.cfg.KafkaProducerEnabled {
		deps = append(deps, "kafka-producer")
	}
	return deps
}

func (d *httpServerDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	logger := d.app.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	contacts := contactrepo.NewRepository(d.app.db, logger)
	identityResolver := resolver.NewResolver(contacts, logger)

	var emitter *events.Emitter
	if d.app.producer != nil {
		emitter = events.NewEmitter(d.app.producer, logger)
	}

	api := e.Group("/api/v1")
	identify.NewHandler(identityResolver, emitter, logger).Register(api)

	checker := health.NewChecker(d.app.db, cfg.Version)
	checker.RegisterRoutes(e)

	d.app.server = e
	d.app.checker = checker

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.WithField("addr", addr).Infof("HTTP server listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	checker.SetReady(true)
	return nil
}

func (d *httpServerDependency) Stop(ctx context.Context) error {
	if d.app.server == nil {
		return nil
	}
	if d.app.checker != nil {
		d.app.checker.SetReady(false)
	}
	return d.app.server.Shutdown(ctx)
}
