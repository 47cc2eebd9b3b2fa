package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/M-logique/DickGrowerBot/internal/domain"
)

// Config — игровые параметры: диапазон роста, размер страницы топа,
// потолки бонуса, ставки и займа.
type Config struct {
	GrowthMin   int
	GrowthMax   int
	TopPageSize int
	DodBonusMax int
	PvpMaxStake int
	LoanMax     int
}

// Service — игровая логика поверх леджера: суточные замки, выбор
// победителя дня, дуэли и займы. Форматированием ответов не занимается.
type Service struct {
	dicks    domain.DickRepo
	loans    domain.LoanRepo
	resolver domain.ChatResolver
	cache    domain.Cache
	cfg      Config
}

// NewService создаёт игровой сервис.
func NewService(dicks domain.DickRepo, loans domain.LoanRepo, resolver domain.ChatResolver, c domain.Cache, cfg Config) *Service {
	return &Service{dicks: dicks, loans: loans, resolver: resolver, cache: c, cfg: cfg}
}

// GrowOutcome — результат попытки роста.
type GrowOutcome struct {
	Growth domain.GrowthResult
	Delta  int
	// AlreadyGrew означает, что суточная попытка уже потрачена:
	// записи не менялись, Growth содержит текущую длину.
	AlreadyGrew   bool
	NextAttemptIn time.Duration
}

// DodOutcome — результат выборов победителя дня.
type DodOutcome struct {
	Winner domain.TopDick
	Bonus  uint
	Growth *domain.GrowthResult
	// AlreadyChosen означает, что победитель на сегодня уже выбран ранее.
	AlreadyChosen bool
}

type dodWinnerRecord struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Bonus     uint   `json:"bonus"`
	NewLength int    `json:"new_length"`
}

// resolveChat нормализует ссылку на чат в числовой идентификатор
// на границе леджера.
func (s *Service) resolveChat(ctx context.Context, ref domain.ChatRef) (int64, error) {
	if id, ok := ref.Resolved(); ok {
		return id, nil
	}
	if ref.Alias() == "" {
		return 0, domain.ErrInvalidChatRef
	}
	return s.resolver.Resolve(ctx, ref.Alias())
}

// Grow тратит суточную попытку игрока: дельта выбирается случайно из
// настроенного диапазона, замок на день держится в Redis и снимается,
// если запись в леджер не удалась.
func (s *Service) Grow(ctx context.Context, user domain.User, ref domain.ChatRef) (GrowOutcome, error) {
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return GrowOutcome{}, err
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("grow:%d:%d:%s", chatID, user.ID, now.Format("2006-01-02"))
	ttl := untilMidnight(now)
	acquired, err := s.cache.SetNX(ctx, key, []byte("1"), ttl)
	if err != nil {
		return GrowOutcome{}, fmt.Errorf("суточный замок: %w", err)
	}
	if !acquired {
		current, err := s.dicks.GetDick(ctx, user.ID, chatID)
		if err != nil && !errors.Is(err, domain.ErrNoDick) {
			return GrowOutcome{}, err
		}
		return GrowOutcome{
			Growth:        domain.GrowthResult{NewLength: current.Length},
			AlreadyGrew:   true,
			NextAttemptIn: ttl,
		}, nil
	}

	delta := s.cfg.GrowthMin + rand.IntN(s.cfg.GrowthMax-s.cfg.GrowthMin+1)
	growth, err := s.dicks.CreateOrGrow(ctx, user.ID, chatID, delta)
	if err != nil {
		// Замок снимается, чтобы сбой хранилища не съедал попытку.
		_ = s.cache.Del(ctx, key)
		return GrowOutcome{}, err
	}
	return GrowOutcome{Growth: growth, Delta: delta, NextAttemptIn: ttl}, nil
}

// Top возвращает страницу топа чата. Нумерация страниц с нуля.
func (s *Service) Top(ctx context.Context, ref domain.ChatRef, page int) ([]domain.TopDick, int, error) {
	if page < 0 {
		return nil, 0, domain.ErrInvalidOffset
	}
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	offset := page * s.cfg.TopPageSize
	top, err := s.dicks.GetTop(ctx, chatID, offset, s.cfg.TopPageSize)
	return top, offset, err
}

// DickOfDay выбирает победителя дня. Выбор случаен среди игроков, уже
// имеющих запись в чате; повторные и конкурентные вызовы в течение дня
// видят одного и того же победителя.
func (s *Service) DickOfDay(ctx context.Context, ref domain.ChatRef) (DodOutcome, error) {
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return DodOutcome{}, err
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("dod:%d:%s", chatID, now.Format("2006-01-02"))

	if existing, err := s.winnerFromCache(ctx, key); err == nil && existing != nil {
		return *existing, nil
	}

	member, err := s.dicks.GetRandomMember(ctx, chatID)
	if err != nil {
		return DodOutcome{}, err
	}
	bonus := uint(1 + rand.IntN(s.cfg.DodBonusMax))

	record := dodWinnerRecord{UserID: member.UserID, Name: member.OwnerName, Bonus: bonus}
	payload, err := json.Marshal(record)
	if err != nil {
		return DodOutcome{}, err
	}
	acquired, err := s.cache.SetNX(ctx, key, payload, untilMidnight(now))
	if err != nil {
		return DodOutcome{}, fmt.Errorf("замок выборов: %w", err)
	}
	if !acquired {
		// Кто-то успел раньше: возвращаем уже выбранного победителя.
		if existing, err := s.winnerFromCache(ctx, key); err == nil && existing != nil {
			return *existing, nil
		}
		return DodOutcome{AlreadyChosen: true}, nil
	}

	growth, err := s.dicks.SetDodWinner(ctx, chatID, member.UserID, bonus)
	if err != nil {
		// Замок снимается: иначе сбой хранилища выжигает выборы на весь
		// день, а бонус так и остаётся неначисленным.
		_ = s.cache.Del(ctx, key)
		return DodOutcome{}, err
	}
	if growth == nil {
		// Запись исчезнуть не должна: кандидат только что был в выборке.
		_ = s.cache.Del(ctx, key)
		return DodOutcome{}, domain.ErrNoDick
	}

	record.NewLength = growth.NewLength
	if payload, err := json.Marshal(record); err == nil {
		_ = s.cache.Set(ctx, key, payload, untilMidnight(now))
	}
	return DodOutcome{Winner: member, Bonus: bonus, Growth: growth}, nil
}

func (s *Service) winnerFromCache(ctx context.Context, key string) (*DodOutcome, error) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	var record dodWinnerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &DodOutcome{
		Winner:        domain.TopDick{UserID: record.UserID, OwnerName: record.Name, Length: record.NewLength},
		Bonus:         record.Bonus,
		Growth:        &domain.GrowthResult{NewLength: record.NewLength},
		AlreadyChosen: true,
	}, nil
}

// Pvp разыгрывает дуэль честной монетой и переводит ставку одной
// транзакцией. Оба участника обязаны уже иметь записи в чате.
func (s *Service) Pvp(ctx context.Context, ref domain.ChatRef, attacker, defender domain.User, stake int) (domain.PvpOutcome, error) {
	if stake <= 0 || stake > s.cfg.PvpMaxStake {
		return domain.PvpOutcome{}, domain.ErrInvalidStake
	}
	if attacker.ID == defender.ID {
		return domain.PvpOutcome{}, domain.ErrInvalidStake
	}
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return domain.PvpOutcome{}, err
	}

	winnerID, loserID := attacker.ID, defender.ID
	if rand.IntN(2) == 0 {
		winnerID, loserID = defender.ID, attacker.ID
	}
	outcome, err := s.dicks.PvpTransfer(ctx, chatID, winnerID, loserID, stake)
	if err != nil {
		return domain.PvpOutcome{}, err
	}
	if outcome == nil {
		return domain.PvpOutcome{}, domain.ErrNoDick
	}
	return *outcome, nil
}

// Loan выдаёт заём в пределах настроенного потолка.
func (s *Service) Loan(ctx context.Context, user domain.User, ref domain.ChatRef, amount int) (*domain.GrowthResult, error) {
	if amount <= 0 || amount > s.cfg.LoanMax {
		return nil, domain.ErrInvalidLoan
	}
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return nil, err
	}
	growth, err := s.loans.TakeLoan(ctx, chatID, user.ID, amount)
	if err != nil {
		return nil, err
	}
	if growth == nil {
		return nil, domain.ErrNoDick
	}
	return growth, nil
}

// Debt возвращает остаток долга игрока.
func (s *Service) Debt(ctx context.Context, user domain.User, ref domain.ChatRef) (domain.Loan, error) {
	chatID, err := s.resolveChat(ctx, ref)
	if err != nil {
		return domain.Loan{}, err
	}
	return s.loans.GetLoan(ctx, chatID, user.ID)
}

func untilMidnight(now time.Time) time.Duration {
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now)
}
