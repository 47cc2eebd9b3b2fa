package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/M-logique/DickGrowerBot/internal/domain"
	"github.com/M-logique/DickGrowerBot/internal/infra/metrics"
)

// Resolver разрешает публичный алиас чата через Bot API getChat.
type Resolver struct {
	bot *tgbotapi.BotAPI
}

// NewResolver создаёт резолвер.
func NewResolver(bot *tgbotapi.BotAPI) *Resolver {
	return &Resolver{bot: bot}
}

var _ domain.ChatResolver = (*Resolver)(nil)

// Resolve возвращает числовой идентификатор чата по алиасу.
// Ошибка резолва — отдельный вид ошибки, не замешанный в ошибки хранилища.
func (r *Resolver) Resolve(ctx context.Context, alias string) (int64, error) {
	start := time.Now()
	chat, err := r.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + alias},
	})
	metrics.ObserveNetworkRequest("telegram", "get_chat", alias, start, err)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrChatResolve, alias, err)
	}
	return chat.ID, nil
}
