package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldworks/chatline/internal/ai"
	"github.com/fieldworks/chatline/internal/chat"
	"github.com/fieldworks/chatline/internal/config"
	"github.com/fieldworks/chatline/internal/db"
	"github.com/fieldworks/chatline/internal/httpapi"
	"github.com/fieldworks/chatline/internal/httpapi/handlers"
	"github.com/fieldworks/chatline/internal/identity"
	"github.com/fieldworks/chatline/internal/queue/rabbitmq"
	"github.com/fieldworks/chatline/internal/store"
	"github.com/fieldworks/chatline/internal/store/memstore"
	"github.com/fieldworks/chatline/internal/store/redisstore"
	"github.com/fieldworks/chatline/internal/store/sqlstore"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()

	st, err := openStore(cfg)
	if err != nil {
		log.Error("open store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}

	reg := buildProviders(cfg)
	ident := identity.NewService(st)

	registry := chat.NewRegistry(st, cfg.SessionNameMaxLen, log)
	sequencer := chat.NewSequencer(st, cfg.AppendRetryLimit, log)
	history := chat.NewHistory(st, registry, log)
	chatSvc := chat.NewService(registry, sequencer, history, reg, ident,
		cfg.ChatContextWindowSize, cfg.AIProvider, cfg.DefaultModel(), log)

	var pub *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		pub, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("rabbit unavailable, async turns disabled", "err", err)
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	h := handlers.NewHandler(cfg, chatSvc, ident, pub)
	router := httpapi.NewRouter(cfg, h)

	srv := &http.Server{Addr: cfg.Addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "memory":
		return memstore.New(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return redisstore.New(rdb), nil
	default: // sql
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(gdb)
	}
}

func buildProviders(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}
