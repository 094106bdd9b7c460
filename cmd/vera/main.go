package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skotchmaster/vera/internal/blacklist"
	"github.com/Skotchmaster/vera/internal/config"
	"github.com/Skotchmaster/vera/internal/hash"
	"github.com/Skotchmaster/vera/internal/httpserver"
	"github.com/Skotchmaster/vera/internal/janitor"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/middleware/csrf"
	"github.com/Skotchmaster/vera/internal/mykafka"
	"github.com/Skotchmaster/vera/internal/repo"
	"github.com/Skotchmaster/vera/internal/service"
	"github.com/Skotchmaster/vera/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel)
	if err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := config.OpenDB(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Error("db_init_failed", "error", err)
		os.Exit(1)
	}
	store := repo.New(db)

	hasher, err := hash.NewArgon2(cfg.Argon2)
	if err != nil {
		log.Error("hasher_init_failed", "error", err)
		os.Exit(1)
	}
	codec, err := tokens.NewCodec(tokens.Config{
		Secret:        cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        "vera",
	})
	if err != nil {
		log.Error("token_codec_init_failed", "error", err)
		os.Exit(1)
	}

	var events mykafka.Publisher = mykafka.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := mykafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Error("kafka_init_failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.Warn("kafka_close_failed", "error", err)
			}
		}()
		events = producer
	} else {
		log.Warn("kafka_disabled", "reason", "KAFKA_BROKERS is empty")
	}

	bl := blacklist.New(store, log)
	tasks := []janitor.Task{{Name: "blacklist_purge", Run: bl.PurgeExpired}}

	var csrfStore csrf.Store
	if cfg.RedisAddr != "" {
		rdb, err := config.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Error("redis_init_failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		csrfStore = csrf.NewRedisStore(rdb, cfg.CSRFTokenTTL)
	} else {
		mem := csrf.NewMemoryStore(cfg.CSRFTokenTTL)
		tasks = append(tasks, janitor.Task{Name: "csrf_sweep", Run: mem.Sweep})
		csrfStore = mem
	}

	jan, err := janitor.New(janitor.Config{
		InitialDelay: cfg.PurgeDelay,
		Interval:     cfg.PurgeInterval,
		Grace:        cfg.JanitorGrace,
	}, log, tasks...)
	if err != nil {
		log.Error("janitor_init_failed", "error", err)
		os.Exit(1)
	}

	users := &service.UserService{Users: store, Events: events}
	e := httpserver.New(&httpserver.Deps{
		Logger: log,
		Auth: &httpserver.AuthHTTP{
			Svc: &service.AuthService{
				Users:     store,
				Resets:    store,
				Hasher:    hasher,
				Tokens:    codec,
				Blacklist: bl,
				Events:    events,
				ResetTTL:  cfg.ResetTokenTTL,
			},
			Users:        users,
			CookieSecure: cfg.CookieSecure,
		},
		Users:             &httpserver.UsersHTTP{Svc: users},
		Tokens:            codec,
		Blacklist:         bl,
		CSRFStore:         csrfStore,
		CORSOrigins:       cfg.CORSOrigins,
		CSRFEnforceOrigin: cfg.CSRFEnforceOrigin,
	})
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	if err := jan.Start(ctx); err != nil {
		log.Error("janitor_start_failed", "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("http_listening", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", "error", err)
	}
	jan.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
