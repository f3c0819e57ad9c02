package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.io/infrasutra/mailcat/internal/api"
	"github.io/infrasutra/mailcat/internal/config"
	"github.io/infrasutra/mailcat/internal/render"
	"github.io/infrasutra/mailcat/internal/service"
	"github.io/infrasutra/mailcat/internal/smtpserver"
	"github.io/infrasutra/mailcat/internal/sse"
	"github.io/infrasutra/mailcat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Store.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}
	if cfg.Store.DBPath == "" {
		logger.Warn("DB_PATH not set; records are kept in memory only")
	}

	hub := sse.NewHub()
	opts := []service.Option{
		service.WithTimeout(cfg.Store.Timeout),
		service.WithRevisionAttempts(cfg.Store.RevisionAttempts),
	}
	mails := service.NewMailService(db, logger, append(opts, service.WithPublisher(hub))...)
	templates := service.NewTemplateService(db, render.NewHandlebars(), mails, logger, opts...)

	apiServer := api.NewServer(mails, templates, db, hub, logger)

	var smtpSrv *smtpserver.Server
	if cfg.SMTP.Enabled {
		smtpAuthCfg := smtpserver.AuthConfig{
			Enabled:  cfg.SMTP.AuthEnabled,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
		if smtpAuthCfg.Enabled {
			logger.Info("smtp auth enabled", "username", smtpAuthCfg.Username)
		} else {
			logger.Warn("smtp auth disabled; server accepts unauthenticated connections")
		}

		smtpSrv = smtpserver.New(mails, logger, fmt.Sprintf(":%d", cfg.SMTP.Port), smtpAuthCfg)
		go func() {
			if err := smtpSrv.ListenAndServe(); err != nil {
				logger.Error("smtp server stopped", "error", err)
			}
		}()
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if smtpSrv != nil {
		if err := smtpSrv.Close(); err != nil {
			logger.Error("shutdown smtp", "error", err)
		}
	}
}
