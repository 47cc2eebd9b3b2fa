package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/M-logique/DickGrowerBot/internal/adapters/bot"
	"github.com/M-logique/DickGrowerBot/internal/adapters/repo"
	"github.com/M-logique/DickGrowerBot/internal/adapters/telegram"
	"github.com/M-logique/DickGrowerBot/internal/infra/cache"
	"github.com/M-logique/DickGrowerBot/internal/infra/config"
	"github.com/M-logique/DickGrowerBot/internal/infra/db"
	infrahttp "github.com/M-logique/DickGrowerBot/internal/infra/http"
	"github.com/M-logique/DickGrowerBot/internal/infra/log"
	"github.com/M-logique/DickGrowerBot/internal/infra/metrics"
	"github.com/M-logique/DickGrowerBot/internal/infra/queue"
	"github.com/M-logique/DickGrowerBot/internal/usecase/game"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	// Миграции выполняются целиком до первой операции леджера.
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx, pool); err != nil {
		migrateCancel()
		logger.Fatal().Err(err).Msg("миграции не применились")
	}
	migrateCancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	counters := metrics.NewCommandCounters(prometheus.DefaultRegisterer)

	repoAdapter := repo.NewPostgres(pool, cfg.Features, cfg.Game.LoanPayoutRatio)
	cacheAdapter := cache.NewRedis(redisClient)
	dodQueue := queue.NewRedisDodQueue(redisClient, cfg.Queues.Dod)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}

	gameSvc := game.NewService(repoAdapter, repoAdapter, telegram.NewResolver(botAPI), cacheAdapter, game.Config{
		GrowthMin:   cfg.Game.GrowthMin,
		GrowthMax:   cfg.Game.GrowthMax,
		TopPageSize: cfg.Game.TopPageSize,
		DodBonusMax: cfg.Game.DodBonusMax,
		PvpMaxStake: cfg.Game.PvpMaxStake,
		LoanMax:     cfg.Game.LoanMax,
	})
	h := bot.NewHandler(botAPI, logger, repoAdapter, gameSvc, counters)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Воркер заданий планировщика: объявляет писюна дня в чатах.
	go func() {
		for {
			job, err := dodQueue.Pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error().Err(err).Msg("очередь заданий недоступна")
				time.Sleep(time.Second)
				continue
			}
			h.HandleDodJob(ctx, job)
		}
	}()

	srv := infrahttp.NewServer(logger)

	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("некорректный webhook URL")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить webhook")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("режим webhook")
		srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
			var update tgbotapi.Update
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			h.HandleUpdate(r.Context(), update)
			w.WriteHeader(http.StatusOK)
		})
	} else {
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Error().Err(err).Msg("не удалось удалить webhook")
		}
		logger.Info().Msg("режим long polling")
		go func() {
			updCfg := tgbotapi.NewUpdate(0)
			updCfg.Timeout = 30
			updates := botAPI.GetUpdatesChan(updCfg)
			for {
				select {
				case <-ctx.Done():
					botAPI.StopReceivingUpdates()
					return
				case upd := <-updates:
					h.HandleUpdate(ctx, upd)
				}
			}
		}()
	}

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
