package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/wfmiles/miles-ledger/internal/cache"
	"github.com/wfmiles/miles-ledger/internal/config"
	"github.com/wfmiles/miles-ledger/internal/handlers"
	"github.com/wfmiles/miles-ledger/internal/repository"
	"github.com/wfmiles/miles-ledger/internal/services"
	xhttp "github.com/wfmiles/miles-ledger/pkg/http"
	"github.com/wfmiles/miles-ledger/pkg/logger"
	"github.com/wfmiles/miles-ledger/pkg/pg"
	"github.com/wfmiles/miles-ledger/pkg/prom"
	"github.com/wfmiles/miles-ledger/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	cpmCache := cache.NewCpmCache(redisAdap, config.Get().CpmCacheTTL)

	accountRepo := repository.NewAccountRepository(db)
	programRepo := repository.NewProgramRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)

	// services
	registryService := services.NewRegistryService(accountRepo, programRepo)
	ledgerService := services.NewLedgerService(accountRepo, programRepo, transactionRepo, subscriptionRepo, db, cpmCache)
	subscriptionService := services.NewSubscriptionService(accountRepo, programRepo, subscriptionRepo, transactionRepo, checkpointRepo, db, cpmCache)
	undoService := services.NewUndoService(transactionRepo, checkpointRepo, db, cpmCache)
	reconcileService := services.NewReconcileService(accountRepo, programRepo, transactionRepo, checkpointRepo, db, cpmCache)
	healthService := services.NewHealthService(db)

	// v1 handlers
	registryHandler := handlers.NewRegistryHandler(registryService)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, undoService)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	reconcileHandler := handlers.NewReconcileHandler(reconcileService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterRegistryRoutes(g, registryHandler)
	handlers.RegisterLedgerRoutes(g, ledgerHandler)
	handlers.RegisterSubscriptionRoutes(g, subscriptionHandler)
	handlers.RegisterReconcileRoutes(g, reconcileHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
