package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"points-service/internal/catalog"
	"points-service/internal/config"
	"points-service/internal/consumer"
	"points-service/internal/database"
	"points-service/internal/gateway"
	"points-service/internal/handlers"
	"points-service/internal/logger"
	"points-service/internal/points"
	"points-service/internal/reconciler"
	"points-service/internal/repository"
)

func main() {
	log := logger.New()
	cfg := config.Load()

	// Initialize database
	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	sqlDB, _ := db.DB.DB()
	defer sqlDB.Close()

	// Points package catalog
	cat := catalog.Default()
	if cfg.CatalogJSON != "" {
		cat, err = catalog.FromJSON(cfg.CatalogJSON)
		if err != nil {
			log.WithError(err).Fatal("invalid catalog configuration")
		}
	}

	// Initialize repositories and the points service
	balanceRepo := repository.NewBalanceRepository(db.DB, log)
	transactionRepo := repository.NewTransactionRepository(db.DB, log)
	orderRepo := repository.NewOrderRepository(db.DB, log)
	gw := gateway.NewClient(cfg.Gateway, log)
	svc := points.NewService(db.DB, balanceRepo, transactionRepo, orderRepo, gw, cat, cfg.Gateway, log)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start pending-order reconciler goroutine
	go reconciler.Run(ctx, svc, orderRepo, cfg.Reconcile, log)

	// Initialize and start the payment notification consumer
	rmqConsumer, err := consumer.New(cfg.Rabbit, log, svc)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize RabbitMQ consumer")
	}
	defer rmqConsumer.Close()

	go func() {
		if err := rmqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Fatal("consumer stopped unexpectedly")
		}
	}()

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.New(svc, cat, cfg.Auth.JWTSecret, log).Register(router)

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: corsWrapper.Handler(router),
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}

	log.Info("graceful shutdown complete")
}
