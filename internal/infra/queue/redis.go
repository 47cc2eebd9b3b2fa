package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/M-logique/DickGrowerBot/internal/domain"
)

// RedisDodQueue реализует очередь заданий на выбор победителя дня
// на базе Redis lists.
type RedisDodQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDodQueue создаёт очередь по указанному ключу.
func NewRedisDodQueue(client *redis.Client, key string) *RedisDodQueue {
	return &RedisDodQueue{client: client, key: key}
}

// Enqueue публикует задание в очередь.
func (q *RedisDodQueue) Enqueue(ctx context.Context, job domain.DodJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задание из очереди.
func (q *RedisDodQueue) Pop(ctx context.Context) (domain.DodJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DodJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DodJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DodJob{}, err
		}
		if len(res) != 2 {
			return domain.DodJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.DodJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.DodJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
