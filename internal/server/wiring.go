package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/mbd888/sentinel/internal/actions"
	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/engine"
	"github.com/mbd888/sentinel/internal/policy"
	"github.com/mbd888/sentinel/internal/signals"
)

// Circuit breaker settings for action executors.
const (
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
)

// openStore picks the audit store from config: Postgres, SQLite, Redis, or
// in-memory when nothing is configured.
func (s *Server) openStore(ctx context.Context) (audit.Store, error) {
	cfg := s.cfg
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.closers = append(s.closers, db.Close)
		s.logger.Info("using PostgreSQL audit store", "url", maskDSN(cfg.DatabaseURL))
		return audit.NewPostgresStore(db), nil

	case cfg.SQLitePath != "":
		store, err := audit.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("using SQLite audit store", "path", cfg.SQLitePath)
		return store, nil

	case cfg.RedisURL != "":
		store, err := audit.OpenRedisURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("using Redis audit store", "url", maskDSN(cfg.RedisURL))
		return store, nil
	}

	s.logger.Warn("no audit store configured, using in-memory storage (data lost on restart)")
	return audit.NewMemoryStore(), nil
}

// buildExecutor routes notify_* directives to the configured webhook and
// pub/sub topic; every other kind is logged. The whole chain sits behind a
// per-kind circuit breaker.
func (s *Server) buildExecutor(ctx context.Context) (actions.Executor, error) {
	cfg := s.cfg
	var notifiers actions.Multi

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, actions.NewWebhookExecutor(cfg.WebhookURL, cfg.WebhookSecret))
		s.logger.Info("webhook notifications enabled", "url", maskDSN(cfg.WebhookURL))
	}
	if cfg.PubSubTopic != "" {
		topic, err := actions.NewPubSubTopic(ctx, cfg.PubSubProject, cfg.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to open pubsub topic: %w", err)
		}
		s.closers = append(s.closers, topic.Close)
		notifiers = append(notifiers, actions.NewPubSubExecutor(topic))
		s.logger.Info("pubsub notifications enabled", "project", cfg.PubSubProject, "topic", cfg.PubSubTopic)
	}

	fallback := actions.NewLogExecutor(s.logger)
	var routes []actions.Route
	if len(notifiers) > 0 {
		routes = append(routes, actions.Route{Prefix: "notify_", Executor: notifiers})
	}

	s.breaker = circuitbreaker.New(breakerThreshold, breakerOpenDuration).
		OnTransition(func(key string, from, to circuitbreaker.State) {
			s.logger.Warn("circuit breaker transition", "key", key, "from", from.String(), "to", to.String())
		})
	return actions.NewGuarded(actions.NewRouter(fallback, routes...), s.breaker), nil
}

// buildEngine assembles the decision engine from config and the already
// opened store and executor.
func (s *Server) buildEngine() (*engine.Engine, error) {
	cfg := s.cfg

	reputation, err := signals.NewCIDRReputation(cfg.IPBlocklist, cfg.IPWatchlist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip lists: %w", err)
	}
	collector := signals.NewCollector(
		signals.WithLocation(cfg.Location()),
		signals.WithNetworkReputation(reputation),
	)

	ladder := policy.Default()
	if cfg.PolicyFile != "" {
		if ladder, err = policy.LoadFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		s.logger.Info("loaded policy ladder", "path", cfg.PolicyFile)
	}

	planner := crisis.NewPlanner()
	if cfg.PlaybookFile != "" {
		if planner, err = crisis.LoadPlaybooks(cfg.PlaybookFile); err != nil {
			return nil, fmt.Errorf("failed to load playbooks: %w", err)
		}
		s.logger.Info("loaded crisis playbooks", "path", cfg.PlaybookFile, "event_types", planner.EventTypes())
	}

	recorder := audit.NewRecorder(s.store).
		WithTimeout(cfg.StoreTimeout).
		WithLogger(s.logger)

	return engine.New(recorder).
		WithCollector(collector).
		WithLadder(ladder).
		WithPlanner(planner).
		WithFanOut(actions.NewFanOut(s.executor, cfg.ActionConcurrency, cfg.ActionTimeout)).
		WithLogger(s.logger), nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
