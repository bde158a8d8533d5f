package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricepulse/internal/config"
	"pricepulse/internal/httpapi"
	"pricepulse/internal/models"
	"pricepulse/internal/services/pricefeed"
	"pricepulse/internal/services/registry"
	"pricepulse/internal/services/trending"
	"pricepulse/internal/store"
	"pricepulse/internal/ws"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.WithFields(logrus.Fields{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.HTTPPort,
	}).Info("Starting pricepulse server")

	// The record store is optional. The price streaming path keeps working
	// without it; only the portfolio/activity endpoints degrade to 503.
	records, err := store.NewRecordStore(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Warn("Record store unavailable, portfolio endpoints disabled")
		records = nil
	}

	feed := pricefeed.NewClient(cfg.Upstream, logger)

	var fallback []models.TrendingPair
	if cfg.Trending.FallbackFile != "" {
		fallback, err = trending.LoadFallbackPairs(cfg.Trending.FallbackFile)
		if err != nil {
			logger.WithError(err).Warn("No trending fallback list loaded")
		} else {
			logger.WithField("pairs", len(fallback)).Info("Loaded trending fallback list")
		}
	}
	trendingCache := trending.NewCache(feed, cfg.Trending.TTL, cfg.Trending.SearchQuery, fallback, logger)

	reg := registry.New(cfg.Registry, feed, logger)
	gateway := ws.NewGateway(cfg.Gateway, reg, logger)

	api := httpapi.NewServer(cfg.Trending, trendingCache, reg, gateway, records, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}

	reg.Close()
	if records != nil {
		_ = records.Close()
	}

	logger.Info("Server stopped")
}
