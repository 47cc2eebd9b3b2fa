package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/M-logique/DickGrowerBot/internal/adapters/repo"
	"github.com/M-logique/DickGrowerBot/internal/domain"
	"github.com/M-logique/DickGrowerBot/internal/infra/cache"
	"github.com/M-logique/DickGrowerBot/internal/infra/config"
	"github.com/M-logique/DickGrowerBot/internal/infra/db"
	"github.com/M-logique/DickGrowerBot/internal/infra/queue"
)

// Планировщик раз в час ставит каждому активному чату одно задание в день
// на выбор писюна дня. Дедупликация — суточный ключ в Redis.
func main() {
	cfg := config.Load()

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool, cfg.Features, cfg.Game.LoanPayoutRatio)
	cacheAdapter := cache.NewRedis(redisClient)
	dodQueue := queue.NewRedisDodQueue(redisClient, cfg.Queues.Dod)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	enqueueAll(ctx, repoAdapter, cacheAdapter, dodQueue)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
			enqueueAll(ctx, repoAdapter, cacheAdapter, dodQueue)
		}
	}
}

// chatLister — единственный срез леджера, нужный планировщику.
type chatLister interface {
	ListActiveChats(ctx context.Context) ([]int64, error)
}

func enqueueAll(ctx context.Context, chats chatLister, c domain.Cache, q domain.DodQueue) {
	active, err := chats.ListActiveChats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: не удалось получить список чатов")
		return
	}
	now := time.Now().UTC()
	for _, chatID := range active {
		key := fmt.Sprintf("dod:enqueued:%d:%s", chatID, now.Format("2006-01-02"))
		acquired, err := c.SetNX(ctx, key, []byte("1"), 48*time.Hour)
		if err != nil {
			log.Error().Err(err).Int64("chat", chatID).Msg("scheduler: замок недоступен")
			continue
		}
		if !acquired {
			continue
		}
		job := domain.NewDodJob(chatID, now)
		if err := q.Enqueue(ctx, job); err != nil {
			// Ключ снимается, иначе чат останется без задания до конца дня.
			_ = c.Del(ctx, key)
			log.Error().Err(err).Int64("chat", chatID).Msg("scheduler: не удалось поставить задание")
			continue
		}
		log.Debug().Int64("chat", chatID).Str("job", job.ID.String()).Msg("scheduler: задание поставлено")
	}
}
