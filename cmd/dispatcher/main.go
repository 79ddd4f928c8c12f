package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/granitex/quotebridge/internal/api"
	"github.com/granitex/quotebridge/internal/artifact"
	"github.com/granitex/quotebridge/internal/codec"
	"github.com/granitex/quotebridge/internal/config"
	"github.com/granitex/quotebridge/internal/db"
	"github.com/granitex/quotebridge/internal/dispatch"
	"github.com/granitex/quotebridge/internal/events"
	"github.com/granitex/quotebridge/internal/logging"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	log.Info("dispatcher starting", "node", cfg.NodeID, "port", cfg.HTTPPort)

	dbStore, err := db.NewStore(cfg.DataDir)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	artifacts, err := artifact.NewStore(filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		log.Error("open artifact store", "error", err)
		os.Exit(1)
	}

	store := quote.NewPersistentStore(dbStore)
	registry := presence.NewRegistry()
	hub := events.NewHub(log)

	enc := &codec.Encoder{
		QuoteRoot:   cfg.ToolQuoteRoot,
		PdfDir:      cfg.ToolPdfDir,
		CompanyName: cfg.CompanyName,
		LoadingSite: cfg.LoadingSite,
	}

	d := dispatch.New(store, enc, hub, registry, log)
	router := api.NewRouter(cfg, store, d, artifacts, registry, hub)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown", "error", err)
	}
	log.Info("dispatcher stopped")
}
