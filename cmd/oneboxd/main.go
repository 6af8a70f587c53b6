package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/onebox/internal/api"
	"github.com/nhle/onebox/internal/classify"
	"github.com/nhle/onebox/internal/credential"
	"github.com/nhle/onebox/internal/events"
	"github.com/nhle/onebox/internal/ingest"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/search"
	"github.com/nhle/onebox/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevel)

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if len(cfg.Accounts) == 0 {
		log.Warnf("no accounts configured in %s, ingestion is idle", *configPath)
	}

	if err := resolvePasswords(cfg.Accounts); err != nil {
		log.WithError(err).Fatal("resolving account passwords")
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		log.WithError(err).Fatal("opening message store")
	}
	defer st.Close()
	log.WithField("path", cfg.Store.Path).Info("message store ready")

	gateway := search.NewGateway(
		search.NewIndexClient(cfg.Search.URL),
		st,
		cfg.Search.Index,
		log,
	)

	var classifier classify.Classifier
	if cfg.Classifier.APIKey != "" {
		classifier = classify.NewAnthropicClassifier(
			cfg.Classifier.APIKey,
			cfg.Classifier.Model,
			cfg.Classifier.MaxTokens,
		)
	} else {
		log.Warn("no classifier API key configured, using keyword heuristics only")
	}

	var notifiers []notify.Notifier
	if cfg.Notify.ChatWebhookURL != "" {
		notifiers = append(notifiers, notify.NewChatNotifier(cfg.Notify.ChatWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}

	broker := events.NewBroker()
	pipe := pipeline.New(
		st,
		classify.NewResolver(classifier, log),
		gateway,
		notifiers,
		broker,
		log,
	)

	supervisor := ingest.NewSupervisor(cfg.Accounts, pipe, log)
	supervisor.Start()

	handler := api.NewHandler(st, gateway, pipe, broker, log)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}

	supervisor.Stop()
	log.Info("oneboxd stopped")
}

// resolvePasswords fills in empty account passwords from the system
// keyring.
func resolvePasswords(accounts []model.AccountConfig) error {
	for i := range accounts {
		if accounts[i].Password != "" {
			continue
		}
		password, err := credential.Get(credential.AccountPasswordKey(accounts[i].Name))
		if err != nil {
			return fmt.Errorf("account %s: %w", accounts[i].Name, err)
		}
		accounts[i].Password = password
	}
	return nil
}

func setupLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return logrus.NewEntry(l)
}
