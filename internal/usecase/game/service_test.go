package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/M-logique/DickGrowerBot/internal/domain"
)

// memDicks — леджер в памяти для одного чата.
type memDicks struct {
	lengths map[int64]int
	order   []int64
	growErr error
	dodErr  error
}

func newMemDicks() *memDicks {
	return &memDicks{lengths: map[int64]int{}}
}

func (m *memDicks) CreateOrGrow(_ context.Context, userID, _ int64, delta int) (domain.GrowthResult, error) {
	if m.growErr != nil {
		return domain.GrowthResult{}, m.growErr
	}
	if _, ok := m.lengths[userID]; !ok {
		m.order = append(m.order, userID)
	}
	m.lengths[userID] += delta
	return domain.GrowthResult{NewLength: m.lengths[userID]}, nil
}

func (m *memDicks) GetDick(_ context.Context, userID, _ int64) (domain.Dick, error) {
	length, ok := m.lengths[userID]
	if !ok {
		return domain.Dick{}, domain.ErrNoDick
	}
	return domain.Dick{UserID: userID, Length: length}, nil
}

func (m *memDicks) GetTop(_ context.Context, _ int64, offset, limit int) ([]domain.TopDick, error) {
	sorted := append([]int64(nil), m.order...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return m.lengths[sorted[i]] > m.lengths[sorted[j]]
	})
	var top []domain.TopDick
	for i := offset; i < len(sorted) && len(top) < limit; i++ {
		id := sorted[i]
		top = append(top, domain.TopDick{UserID: id, OwnerName: fmt.Sprintf("u%d", id), Length: m.lengths[id]})
	}
	return top, nil
}

func (m *memDicks) SetDodWinner(_ context.Context, _, userID int64, bonus uint) (*domain.GrowthResult, error) {
	if m.dodErr != nil {
		return nil, m.dodErr
	}
	if _, ok := m.lengths[userID]; !ok {
		return nil, nil
	}
	m.lengths[userID] += int(bonus)
	return &domain.GrowthResult{NewLength: m.lengths[userID]}, nil
}

func (m *memDicks) PvpTransfer(_ context.Context, _, winnerID, loserID int64, stake int) (*domain.PvpOutcome, error) {
	if _, ok := m.lengths[winnerID]; !ok {
		return nil, nil
	}
	if _, ok := m.lengths[loserID]; !ok {
		return nil, nil
	}
	m.lengths[winnerID] += stake
	m.lengths[loserID] -= stake
	return &domain.PvpOutcome{
		WinnerID:     winnerID,
		LoserID:      loserID,
		Stake:        stake,
		WinnerLength: m.lengths[winnerID],
		LoserLength:  m.lengths[loserID],
	}, nil
}

func (m *memDicks) GetRandomMember(_ context.Context, _ int64) (domain.TopDick, error) {
	if len(m.order) == 0 {
		return domain.TopDick{}, domain.ErrNoCandidates
	}
	id := m.order[0]
	return domain.TopDick{UserID: id, OwnerName: fmt.Sprintf("u%d", id), Length: m.lengths[id]}, nil
}

func (m *memDicks) ListActiveChats(context.Context) ([]int64, error) {
	return nil, nil
}

type memLoans struct {
	growth  *domain.GrowthResult
	takeErr error
	loan    domain.Loan
}

func (m *memLoans) TakeLoan(context.Context, int64, int64, int) (*domain.GrowthResult, error) {
	return m.growth, m.takeErr
}

func (m *memLoans) GetLoan(context.Context, int64, int64) (domain.Loan, error) {
	return m.loan, nil
}

type stubResolver struct {
	aliases map[string]int64
}

func (s *stubResolver) Resolve(_ context.Context, alias string) (int64, error) {
	id, ok := s.aliases[alias]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrChatResolve, alias)
	}
	return id, nil
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// memCache повторяет семантику Redis для SetNX/Get/Set с учётом TTL.
type memCache struct {
	entries map[string]cacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]cacheEntry{}}
}

func (m *memCache) alive(key string) (cacheEntry, bool) {
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (m *memCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, ok := m.alive(key); ok {
		return false, nil
	}
	m.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return true, nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.alive(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return entry.value, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func testConfig() Config {
	return Config{
		GrowthMin:   5,
		GrowthMax:   5,
		TopPageSize: 2,
		DodBonusMax: 1,
		PvpMaxStake: 20,
		LoanMax:     50,
	}
}

func newTestService(dicks *memDicks, loans *memLoans) *Service {
	resolver := &stubResolver{aliases: map[string]int64{"testchat": -100}}
	return NewService(dicks, loans, resolver, newMemCache(), testConfig())
}

func TestGrowFirstTimeAndCooldown(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	user := domain.User{ID: 1, Name: "Толя"}
	ref := domain.ChatRefByID(-100)

	outcome, err := svc.Grow(ctx, user, ref)
	if err != nil {
		t.Fatalf("первый рост упал: %v", err)
	}
	if outcome.AlreadyGrew {
		t.Fatal("первый рост не должен попадать под замок")
	}
	if outcome.Delta != 5 || outcome.Growth.NewLength != 5 {
		t.Fatalf("ожидали дельту 5 и длину 5, получили %d и %d", outcome.Delta, outcome.Growth.NewLength)
	}
	if outcome.NextAttemptIn <= 0 {
		t.Fatalf("время до следующей попытки должно быть положительным: %v", outcome.NextAttemptIn)
	}

	outcome, err = svc.Grow(ctx, user, ref)
	if err != nil {
		t.Fatalf("повторный вызов упал: %v", err)
	}
	if !outcome.AlreadyGrew {
		t.Fatal("повторный рост в тот же день должен упираться в замок")
	}
	if outcome.Growth.NewLength != 5 {
		t.Fatalf("текущая длина должна сохраниться: %d", outcome.Growth.NewLength)
	}
	if dicks.lengths[user.ID] != 5 {
		t.Fatalf("леджер не должен был измениться: %d", dicks.lengths[user.ID])
	}
}

func TestGrowStorageFailureReleasesLock(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	user := domain.User{ID: 1, Name: "Толя"}
	ref := domain.ChatRefByID(-100)

	dicks.growErr = errors.New("база лежит")
	if _, err := svc.Grow(ctx, user, ref); err == nil {
		t.Fatal("ожидали ошибку хранилища")
	}

	dicks.growErr = nil
	outcome, err := svc.Grow(ctx, user, ref)
	if err != nil {
		t.Fatalf("попытка после сбоя должна быть доступна: %v", err)
	}
	if outcome.AlreadyGrew {
		t.Fatal("сбой хранилища не должен съедать суточную попытку")
	}
}

func TestTopPagination(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	ref := domain.ChatRefByID(-100)
	for i, length := range []int{3, 7, 1, 5} {
		if _, err := dicks.CreateOrGrow(ctx, int64(i+1), -100, length); err != nil {
			t.Fatalf("не удалось засеять леджер: %v", err)
		}
	}

	page, offset, err := svc.Top(ctx, ref, 0)
	if err != nil {
		t.Fatalf("топ упал: %v", err)
	}
	if offset != 0 || len(page) != 2 || page[0].Length != 7 || page[1].Length != 5 {
		t.Fatalf("неожиданная первая страница: offset=%d %+v", offset, page)
	}

	page, offset, err = svc.Top(ctx, ref, 1)
	if err != nil {
		t.Fatalf("топ упал: %v", err)
	}
	if offset != 2 || len(page) != 2 || page[0].Length != 3 || page[1].Length != 1 {
		t.Fatalf("неожиданная вторая страница: offset=%d %+v", offset, page)
	}

	if _, _, err := svc.Top(ctx, ref, -1); !errors.Is(err, domain.ErrInvalidOffset) {
		t.Fatalf("отрицательная страница должна отклоняться, получили %v", err)
	}
}

func TestChatRefResolution(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()

	if _, _, err := svc.Top(ctx, domain.ChatRefByAlias("testchat"), 0); err != nil {
		t.Fatalf("алиас должен разрешаться: %v", err)
	}
	if _, _, err := svc.Top(ctx, domain.ChatRefByAlias("nosuchchat"), 0); !errors.Is(err, domain.ErrChatResolve) {
		t.Fatalf("неизвестный алиас должен давать ErrChatResolve, получили %v", err)
	}
	if _, _, err := svc.Top(ctx, domain.ChatRef{}, 0); !errors.Is(err, domain.ErrInvalidChatRef) {
		t.Fatalf("пустая ссылка должна отклоняться, получили %v", err)
	}
}

func TestDickOfDayEmptyChat(t *testing.T) {
	svc := newTestService(newMemDicks(), &memLoans{})
	if _, err := svc.DickOfDay(context.Background(), domain.ChatRefByID(-100)); !errors.Is(err, domain.ErrNoCandidates) {
		t.Fatalf("пустой чат должен давать ErrNoCandidates, получили %v", err)
	}
}

func TestDickOfDayRepeatSameWinner(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	ref := domain.ChatRefByID(-100)
	if _, err := dicks.CreateOrGrow(ctx, 1, -100, 3); err != nil {
		t.Fatalf("не удалось засеять леджер: %v", err)
	}

	first, err := svc.DickOfDay(ctx, ref)
	if err != nil {
		t.Fatalf("выборы упали: %v", err)
	}
	if first.AlreadyChosen {
		t.Fatal("первые выборы не должны помечаться повторными")
	}
	if first.Winner.UserID != 1 || first.Bonus != 1 {
		t.Fatalf("неожиданный победитель: %+v", first)
	}
	if first.Growth == nil || first.Growth.NewLength != 4 {
		t.Fatalf("бонус не начислился: %+v", first.Growth)
	}

	second, err := svc.DickOfDay(ctx, ref)
	if err != nil {
		t.Fatalf("повторные выборы упали: %v", err)
	}
	if !second.AlreadyChosen {
		t.Fatal("повторные выборы должны возвращать прежнего победителя")
	}
	if second.Winner.UserID != first.Winner.UserID || second.Growth.NewLength != 4 {
		t.Fatalf("повторные выборы разошлись с первыми: %+v", second)
	}
	if dicks.lengths[1] != 4 {
		t.Fatalf("бонус не должен начисляться дважды: %d", dicks.lengths[1])
	}
}

func TestDickOfDayStorageFailureNotSticky(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	ref := domain.ChatRefByID(-100)
	if _, err := dicks.CreateOrGrow(ctx, 1, -100, 3); err != nil {
		t.Fatalf("не удалось засеять леджер: %v", err)
	}

	dicks.dodErr = errors.New("база лежит")
	if _, err := svc.DickOfDay(ctx, ref); err == nil {
		t.Fatal("ожидали ошибку хранилища")
	}
	if dicks.lengths[1] != 3 {
		t.Fatalf("леджер не должен был измениться: %d", dicks.lengths[1])
	}

	// Сбой не должен выжигать выборы на весь день: следующий вызов
	// проводит их заново и действительно начисляет бонус.
	dicks.dodErr = nil
	outcome, err := svc.DickOfDay(ctx, ref)
	if err != nil {
		t.Fatalf("выборы после сбоя упали: %v", err)
	}
	if outcome.AlreadyChosen {
		t.Fatal("после сбоя не должно оставаться записанного победителя")
	}
	if outcome.Growth == nil || outcome.Growth.NewLength != 4 {
		t.Fatalf("бонус не начислился: %+v", outcome.Growth)
	}
	if dicks.lengths[1] != 4 {
		t.Fatalf("ожидали длину 4, получили %d", dicks.lengths[1])
	}
}

func TestPvp(t *testing.T) {
	dicks := newMemDicks()
	svc := newTestService(dicks, &memLoans{})
	ctx := context.Background()
	ref := domain.ChatRefByID(-100)
	attacker := domain.User{ID: 1}
	defender := domain.User{ID: 2}

	if _, err := svc.Pvp(ctx, ref, attacker, defender, 0); !errors.Is(err, domain.ErrInvalidStake) {
		t.Fatalf("нулевая ставка должна отклоняться, получили %v", err)
	}
	if _, err := svc.Pvp(ctx, ref, attacker, defender, 21); !errors.Is(err, domain.ErrInvalidStake) {
		t.Fatalf("ставка выше потолка должна отклоняться, получили %v", err)
	}
	if _, err := svc.Pvp(ctx, ref, attacker, attacker, 5); !errors.Is(err, domain.ErrInvalidStake) {
		t.Fatalf("дуэль с самим собой должна отклоняться, получили %v", err)
	}
	if _, err := svc.Pvp(ctx, ref, attacker, defender, 5); !errors.Is(err, domain.ErrNoDick) {
		t.Fatalf("дуэль без записей должна давать ErrNoDick, получили %v", err)
	}

	if _, err := dicks.CreateOrGrow(ctx, attacker.ID, -100, 10); err != nil {
		t.Fatalf("не удалось засеять леджер: %v", err)
	}
	if _, err := dicks.CreateOrGrow(ctx, defender.ID, -100, 10); err != nil {
		t.Fatalf("не удалось засеять леджер: %v", err)
	}
	outcome, err := svc.Pvp(ctx, ref, attacker, defender, 5)
	if err != nil {
		t.Fatalf("дуэль упала: %v", err)
	}
	if outcome.Stake != 5 {
		t.Fatalf("ожидали ставку 5, получили %d", outcome.Stake)
	}
	if outcome.WinnerLength+outcome.LoserLength != 20 {
		t.Fatalf("ставка не сохранилась: %d + %d != 20", outcome.WinnerLength, outcome.LoserLength)
	}
}

func TestLoan(t *testing.T) {
	ctx := context.Background()
	ref := domain.ChatRefByID(-100)
	user := domain.User{ID: 1}

	loans := &memLoans{}
	svc := newTestService(newMemDicks(), loans)

	if _, err := svc.Loan(ctx, user, ref, 0); !errors.Is(err, domain.ErrInvalidLoan) {
		t.Fatalf("нулевой заём должен отклоняться, получили %v", err)
	}
	if _, err := svc.Loan(ctx, user, ref, 51); !errors.Is(err, domain.ErrInvalidLoan) {
		t.Fatalf("заём выше потолка должен отклоняться, получили %v", err)
	}
	if _, err := svc.Loan(ctx, user, ref, 10); !errors.Is(err, domain.ErrNoDick) {
		t.Fatalf("заём без записи должен давать ErrNoDick, получили %v", err)
	}

	loans.takeErr = domain.ErrActiveLoan
	if _, err := svc.Loan(ctx, user, ref, 10); !errors.Is(err, domain.ErrActiveLoan) {
		t.Fatalf("повторный заём должен давать ErrActiveLoan, получили %v", err)
	}

	loans.takeErr = nil
	loans.growth = &domain.GrowthResult{NewLength: 10}
	growth, err := svc.Loan(ctx, user, ref, 10)
	if err != nil {
		t.Fatalf("заём упал: %v", err)
	}
	if growth.NewLength != 10 {
		t.Fatalf("ожидали длину 10, получили %d", growth.NewLength)
	}

	loans.loan = domain.Loan{UserID: user.ID, ChatID: -100, Debt: 10}
	debt, err := svc.Debt(ctx, user, ref)
	if err != nil {
		t.Fatalf("долг упал: %v", err)
	}
	if debt.Debt != 10 {
		t.Fatalf("ожидали долг 10, получили %d", debt.Debt)
	}
}
