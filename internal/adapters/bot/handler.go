package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/M-logique/DickGrowerBot/internal/domain"
	"github.com/M-logique/DickGrowerBot/internal/infra/metrics"
	"github.com/M-logique/DickGrowerBot/internal/usecase/game"
)

// Handler обслуживает апдейты бота: разбирает команды, резолвит личность
// игрока и превращает ответы леджера в сообщения.
type Handler struct {
	bot      *tgbotapi.BotAPI
	log      zerolog.Logger
	users    domain.UserRepo
	game     *game.Service
	counters *metrics.CommandCounters
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, users domain.UserRepo, gameSvc *game.Service, counters *metrics.CommandCounters) *Handler {
	return &Handler{bot: bot, log: log, users: users, game: gameSvc, counters: counters}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || !upd.Message.IsCommand() {
		return
	}
	h.handleCommand(ctx, upd.Message)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	switch msg.Command() {
	case "start":
		h.counters.Start.Inc()
		h.reply(msg.Chat.ID, startMessage)
	case "help":
		h.counters.Help.Inc()
		h.reply(msg.Chat.ID, helpMessage)
	case "grow":
		h.counters.Grow.Chat.Inc()
		h.handleGrow(ctx, msg)
	case "top":
		h.counters.Top.Chat.Inc()
		h.handleTop(ctx, msg)
	case "dick_of_day":
		h.counters.Dod.Chat.Inc()
		h.handleDickOfDay(ctx, msg)
	case "pvp":
		h.counters.Pvp.Chat.Inc()
		h.handlePvp(ctx, msg)
	case "loan":
		h.counters.Loan.Chat.Inc()
		h.handleLoan(ctx, msg)
	}
}

func (h *Handler) handleGrow(ctx context.Context, msg *tgbotapi.Message) {
	user, err := h.resolveUser(ctx, msg.From)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	outcome, err := h.game.Grow(ctx, user, domain.ChatRefByID(msg.Chat.ID))
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	if outcome.AlreadyGrew {
		h.reply(msg.Chat.ID, fmt.Sprintf(
			"%s, сегодня уже выросло. Текущая длина: %d см. Следующая попытка через %s.",
			user.Name, outcome.Growth.NewLength, formatDuration(outcome.NextAttemptIn)))
		return
	}
	verb := "вырос"
	if outcome.Delta < 0 {
		verb = "скукожился"
	}
	text := fmt.Sprintf("%s, твой писюн %s на %d см.\nТеперь он %d см.",
		user.Name, verb, abs(outcome.Delta), outcome.Growth.NewLength)
	if outcome.Growth.PosInTop != nil {
		text += fmt.Sprintf("\nТы занимаешь %d место в топе.", *outcome.Growth.PosInTop)
	}
	h.reply(msg.Chat.ID, text)
}

func (h *Handler) handleTop(ctx context.Context, msg *tgbotapi.Message) {
	page := 0
	if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
		parsed, err := strconv.Atoi(args)
		if err != nil || parsed < 1 {
			h.reply(msg.Chat.ID, "Номер страницы — положительное число: /top 2")
			return
		}
		page = parsed - 1
	}
	top, offset, err := h.game.Top(ctx, domain.ChatRefByID(msg.Chat.ID), page)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	if len(top) == 0 {
		h.reply(msg.Chat.ID, "Здесь пока никто не вырос. Начни с /grow!")
		return
	}
	var b strings.Builder
	b.WriteString("Топ чата:\n")
	for i, entry := range top {
		fmt.Fprintf(&b, "%d. %s — %d см\n", offset+i+1, entry.OwnerName, entry.Length)
	}
	h.reply(msg.Chat.ID, b.String())
}

func (h *Handler) handleDickOfDay(ctx context.Context, msg *tgbotapi.Message) {
	outcome, err := h.game.DickOfDay(ctx, domain.ChatRefByID(msg.Chat.ID))
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, formatDodOutcome(outcome))
}

func (h *Handler) handlePvp(ctx context.Context, msg *tgbotapi.Message) {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		h.reply(msg.Chat.ID, "Дуэль объявляется ответом на сообщение противника: /pvp <ставка>")
		return
	}
	stake, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		h.reply(msg.Chat.ID, "Ставка — целое число сантиметров: /pvp 5")
		return
	}
	attacker, err := h.resolveUser(ctx, msg.From)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	// Противник ищется только среди уже известных игроков: чужой ответ
	// не должен заводить личность за него.
	defender, err := h.users.GetByTGID(ctx, msg.ReplyToMessage.From.ID)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	outcome, err := h.game.Pvp(ctx, domain.ChatRefByID(msg.Chat.ID), attacker, defender, stake)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	winner, loser := attacker, defender
	if outcome.WinnerID != attacker.ID {
		winner, loser = defender, attacker
	}
	h.reply(msg.Chat.ID, fmt.Sprintf(
		"⚔️ Дуэль на %d см!\nПобедил %s: теперь у него %d см.\n%s остаётся с %d см.",
		outcome.Stake, winner.Name, outcome.WinnerLength, loser.Name, outcome.LoserLength))
}

func (h *Handler) handleLoan(ctx context.Context, msg *tgbotapi.Message) {
	user, err := h.resolveUser(ctx, msg.From)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		loan, err := h.game.Debt(ctx, user, domain.ChatRefByID(msg.Chat.ID))
		if err != nil {
			h.replyError(msg.Chat.ID, err)
			return
		}
		if loan.Debt == 0 {
			h.reply(msg.Chat.ID, fmt.Sprintf("%s, долгов нет. Заём: /loan <сумма>", user.Name))
			return
		}
		h.reply(msg.Chat.ID, fmt.Sprintf("%s, остаток долга: %d см.", user.Name, loan.Debt))
		return
	}
	amount, err := strconv.Atoi(args)
	if err != nil {
		h.reply(msg.Chat.ID, "Сумма займа — целое число сантиметров: /loan 10")
		return
	}
	growth, err := h.game.Loan(ctx, user, domain.ChatRefByID(msg.Chat.ID), amount)
	if err != nil {
		h.replyError(msg.Chat.ID, err)
		return
	}
	text := fmt.Sprintf("%s взял в долг %d см. Теперь длина %d см, часть будущего роста пойдёт кредитору.",
		user.Name, amount, growth.NewLength)
	if growth.PosInTop != nil {
		text += fmt.Sprintf("\nПозиция в топе: %d.", *growth.PosInTop)
	}
	h.reply(msg.Chat.ID, text)
}

// HandleDodJob выполняет задание планировщика: проводит выборы победителя
// дня и объявляет результат в чате.
func (h *Handler) HandleDodJob(ctx context.Context, job domain.DodJob) {
	h.counters.DodJobs.Invoked.Inc()
	outcome, err := h.game.DickOfDay(ctx, domain.ChatRefByID(job.ChatID))
	if err != nil {
		if errors.Is(err, domain.ErrNoCandidates) {
			return
		}
		h.log.Error().Err(err).Int64("chat", job.ChatID).Str("job", job.ID.String()).
			Msg("не удалось выбрать писюна дня")
		return
	}
	if outcome.AlreadyChosen {
		// Кто-то уже провёл выборы вручную, объявлять повторно не нужно.
		h.counters.DodJobs.Finished.Inc()
		return
	}
	h.reply(job.ChatID, formatDodOutcome(outcome))
	h.counters.DodJobs.Finished.Inc()
}

// resolveUser — идемпотентный апсерт личности: имя обновляется при каждом
// обращении.
func (h *Handler) resolveUser(ctx context.Context, from *tgbotapi.User) (domain.User, error) {
	return h.users.UpsertByTGID(ctx, from.ID, displayName(from))
}

func displayName(from *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))
	if name == "" {
		name = from.UserName
	}
	return name
}

func formatDodOutcome(outcome game.DodOutcome) string {
	if outcome.AlreadyChosen {
		return fmt.Sprintf("Писюн дня уже выбран: %s (%d см). Приходите завтра.",
			outcome.Winner.OwnerName, outcome.Winner.Length)
	}
	text := fmt.Sprintf("🎉 Писюн дня — %s! Бонус +%d см.", outcome.Winner.OwnerName, outcome.Bonus)
	if outcome.Growth != nil {
		text += fmt.Sprintf(" Теперь %d см.", outcome.Growth.NewLength)
		if outcome.Growth.PosInTop != nil {
			text += fmt.Sprintf(" Место в топе: %d.", *outcome.Growth.PosInTop)
		}
	}
	return text
}

func (h *Handler) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrNoUser):
		h.reply(chatID, "Этот игрок ещё не играет. Дуэль станет возможна после его /grow.")
	case errors.Is(err, domain.ErrNoDick):
		h.reply(chatID, "Сначала нужно вырасти: /grow")
	case errors.Is(err, domain.ErrNoCandidates):
		h.reply(chatID, "В этом чате ещё никто не вырос, выбирать не из кого.")
	case errors.Is(err, domain.ErrActiveLoan):
		h.reply(chatID, "Сначала погасите текущий долг.")
	case errors.Is(err, domain.ErrInvalidStake):
		h.reply(chatID, "Такая ставка не принимается.")
	case errors.Is(err, domain.ErrInvalidLoan):
		h.reply(chatID, "Такой заём не выдаётся.")
	case errors.Is(err, domain.ErrInvalidChatRef), errors.Is(err, domain.ErrChatResolve):
		h.reply(chatID, "Не удалось определить чат.")
	default:
		h.log.Error().Err(err).Int64("chat", chatID).Msg("операция завершилась ошибкой")
		h.reply(chatID, "Что-то пошло не так, попробуйте позже.")
	}
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	start := time.Now()
	_, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "chat", start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить сообщение")
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%d мин", m)
	}
	return fmt.Sprintf("%d ч %d мин", h, m)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const startMessage = `Привет! Я выращиваю писюны.
Раз в день зови /grow — и смотри, что получится.
Полный список команд: /help`

const helpMessage = `Команды:
/grow — суточная попытка роста (может и уменьшить)
/top [страница] — топ чата
/dick_of_day — выбрать писюна дня
/pvp <ставка> — дуэль (ответом на сообщение противника)
/loan [сумма] — взять заём или посмотреть долг`
