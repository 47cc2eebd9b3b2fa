package repo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/M-logique/DickGrowerBot/internal/domain"
	"github.com/M-logique/DickGrowerBot/internal/infra/config"
	"github.com/M-logique/DickGrowerBot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
// Всё разделяемое изменяемое состояние живёт в БД и защищено её
// транзакционными гарантиями; процессных кэшей здесь нет.
type Postgres struct {
	pool            *pgxpool.Pool
	features        config.FeatureToggles
	loanPayoutRatio float64
}

var _ domain.UserRepo = (*Postgres)(nil)
var _ domain.DickRepo = (*Postgres)(nil)
var _ domain.LoanRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД. Снимок фич фиксируется на время жизни
// леджера и больше не меняется.
func NewPostgres(pool *pgxpool.Pool, features config.FeatureToggles, loanPayoutRatio float64) *Postgres {
	return &Postgres{pool: pool, features: features, loanPayoutRatio: loanPayoutRatio}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertByTGID реализует domain.UserRepo: имя перезаписывается при каждом
// обращении, внутренний идентификатор неизменен с момента создания.
func (p *Postgres) UpsertByTGID(ctx context.Context, tgUserID int64, name string) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_uid, name)
VALUES ($1, $2)
ON CONFLICT (tg_uid) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
RETURNING id, tg_uid, name, created_at, updated_at
`, tgUserID, name).Scan(&user.ID, &user.TGUserID, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	return user, err
}

// GetByTGID возвращает игрока по Telegram ID.
func (p *Postgres) GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tg_uid, name, created_at, updated_at
FROM users WHERE tg_uid = $1
`, tgUserID).Scan(&user.ID, &user.TGUserID, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tgid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNoUser
	}
	return user, err
}

// CreateOrGrow атомарно создаёт запись с длиной delta либо прибавляет delta
// к существующей. Гонка insert/update снята единственным upsert-запросом,
// позиция в топе считается в той же транзакции от только что записанного
// значения, а не от устаревшего чтения.
func (p *Postgres) CreateOrGrow(ctx context.Context, userID, chatID int64, delta int) (domain.GrowthResult, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "dicks", start, err)
	if err != nil {
		return domain.GrowthResult{}, err
	}
	defer tx.Rollback(ctx)

	effective, err := p.applyLoanPayback(ctx, tx, chatID, userID, delta)
	if err != nil {
		return domain.GrowthResult{}, err
	}

	var (
		newLength int
		updatedAt time.Time
	)
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO dicks (user_id, chat_id, length, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, chat_id) DO UPDATE
    SET length = dicks.length + EXCLUDED.length,
        updated_at = now()
RETURNING length, updated_at
`, userID, chatID, effective).Scan(&newLength, &updatedAt)
	metrics.ObserveNetworkRequest("postgres", "dicks_upsert", "dicks", start, err)
	if err != nil {
		return domain.GrowthResult{}, err
	}

	pos, err := p.positionInTop(ctx, tx, chatID, userID, newLength, updatedAt)
	if err != nil {
		return domain.GrowthResult{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "dicks", start, err)
	if err != nil {
		return domain.GrowthResult{}, err
	}
	return domain.GrowthResult{NewLength: newLength, PosInTop: pos}, nil
}

// applyLoanPayback направляет часть положительного прироста на погашение
// долга и возвращает остаток прироста. Строка долга блокируется на время
// транзакции.
func (p *Postgres) applyLoanPayback(ctx context.Context, tx pgx.Tx, chatID, userID int64, delta int) (int, error) {
	if delta <= 0 {
		return delta, nil
	}

	var debt int
	start := time.Now()
	err := tx.QueryRow(ctx, `
SELECT debt FROM loans WHERE user_id = $1 AND chat_id = $2 FOR UPDATE
`, userID, chatID).Scan(&debt)
	metrics.ObserveNetworkRequest("postgres", "loans_get_for_update", "loans", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return delta, nil
	}
	if err != nil {
		return 0, err
	}
	if debt <= 0 {
		return delta, nil
	}

	payback := loanPayback(delta, debt, p.loanPayoutRatio)

	start = time.Now()
	if debt-payback <= 0 {
		_, err = tx.Exec(ctx, `DELETE FROM loans WHERE user_id = $1 AND chat_id = $2`, userID, chatID)
		metrics.ObserveNetworkRequest("postgres", "loans_delete", "loans", start, err)
	} else {
		_, err = tx.Exec(ctx, `UPDATE loans SET debt = debt - $3 WHERE user_id = $1 AND chat_id = $2`, userID, chatID, payback)
		metrics.ObserveNetworkRequest("postgres", "loans_payback", "loans", start, err)
	}
	if err != nil {
		return 0, err
	}
	return delta - payback, nil
}

// loanPayback считает, какая часть положительного прироста уходит кредитору.
func loanPayback(delta, debt int, ratio float64) int {
	if delta <= 0 || debt <= 0 {
		return 0
	}
	payback := int(math.Ceil(float64(delta) * ratio))
	if payback > delta {
		payback = delta
	}
	if payback > debt {
		payback = debt
	}
	return payback
}

// positionInTop считает позицию игрока: количество строк, стоящих в топе
// строго выше (length DESC, updated_at ASC, user_id ASC), плюс один.
// При выключенном TopUnlimited подсчёт пропускается целиком.
func (p *Postgres) positionInTop(ctx context.Context, tx pgx.Tx, chatID, userID int64, length int, updatedAt time.Time) (*int, error) {
	if !p.features.TopUnlimited {
		return nil, nil
	}

	var pos int
	start := time.Now()
	err := tx.QueryRow(ctx, `
SELECT COUNT(*) + 1 FROM dicks
WHERE chat_id = $1
  AND (length > $2
       OR (length = $2 AND (updated_at < $3
                            OR (updated_at = $3 AND user_id < $4))))
`, chatID, length, updatedAt, userID).Scan(&pos)
	metrics.ObserveNetworkRequest("postgres", "dicks_position", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetDick возвращает текущую запись игрока в чате.
func (p *Postgres) GetDick(ctx context.Context, userID, chatID int64) (domain.Dick, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var d domain.Dick
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, chat_id, length, updated_at
FROM dicks WHERE user_id = $1 AND chat_id = $2
`, userID, chatID).Scan(&d.UserID, &d.ChatID, &d.Length, &d.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "dicks_get", "dicks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Dick{}, domain.ErrNoDick
	}
	return d, err
}

// GetTop возвращает срез топа чата. Порядок детерминирован и совпадает
// с тем, по которому считается позиция: страницы не пересекаются и вместе
// образуют префикс полного списка. Пустой чат — пустой срез, не ошибка.
func (p *Postgres) GetTop(ctx context.Context, chatID int64, offset, limit int) ([]domain.TopDick, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	if offset < 0 {
		return nil, domain.ErrInvalidOffset
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT d.user_id, u.name, d.length
FROM dicks d JOIN users u ON u.id = d.user_id
WHERE d.chat_id = $1
ORDER BY d.length DESC, d.updated_at ASC, d.user_id ASC
LIMIT $2 OFFSET $3
`, chatID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "dicks_top", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []domain.TopDick
	for rows.Next() {
		var entry domain.TopDick
		if err := rows.Scan(&entry.UserID, &entry.OwnerName, &entry.Length); err != nil {
			return nil, err
		}
		top = append(top, entry)
	}
	return top, rows.Err()
}

// SetDodWinner начисляет бонус дня. Победитель обязан уже иметь запись:
// запись не создаётся, nil без ошибки означает отсутствие побочных эффектов.
func (p *Postgres) SetDodWinner(ctx context.Context, chatID, userID int64, bonus uint) (*domain.GrowthResult, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		newLength int
		updatedAt time.Time
	)
	start = time.Now()
	err = tx.QueryRow(ctx, `
UPDATE dicks SET length = length + $3, updated_at = now()
WHERE user_id = $1 AND chat_id = $2
RETURNING length, updated_at
`, userID, chatID, int(bonus)).Scan(&newLength, &updatedAt)
	metrics.ObserveNetworkRequest("postgres", "dicks_dod_bonus", "dicks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pos, err := p.positionInTop(ctx, tx, chatID, userID, newLength, updatedAt)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	return &domain.GrowthResult{NewLength: newLength, PosInTop: pos}, nil
}

// PvpTransfer переводит ставку от проигравшего победителю одной транзакцией.
// Обе строки блокируются одним запросом в порядке возрастания user_id,
// поэтому встречные дуэли не взаимоблокируются.
func (p *Postgres) PvpTransfer(ctx context.Context, chatID, winnerID, loserID int64, stake int) (*domain.PvpOutcome, error) {
	if stake <= 0 {
		return nil, domain.ErrInvalidStake
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	rows, err := tx.Query(ctx, `
SELECT user_id FROM dicks
WHERE chat_id = $1 AND user_id = ANY($2)
ORDER BY user_id
FOR UPDATE
`, chatID, []int64{winnerID, loserID})
	metrics.ObserveNetworkRequest("postgres", "dicks_lock_pair", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	locked := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if locked < 2 {
		return nil, nil
	}

	outcome := domain.PvpOutcome{WinnerID: winnerID, LoserID: loserID, Stake: stake}
	start = time.Now()
	err = tx.QueryRow(ctx, `
UPDATE dicks SET length = length + $3, updated_at = now()
WHERE user_id = $1 AND chat_id = $2
RETURNING length
`, winnerID, chatID, stake).Scan(&outcome.WinnerLength)
	metrics.ObserveNetworkRequest("postgres", "dicks_pvp_win", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	start = time.Now()
	err = tx.QueryRow(ctx, `
UPDATE dicks SET length = length - $3, updated_at = now()
WHERE user_id = $1 AND chat_id = $2
RETURNING length
`, loserID, chatID, stake).Scan(&outcome.LoserLength)
	metrics.ObserveNetworkRequest("postgres", "dicks_pvp_lose", "dicks", start, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// GetRandomMember выбирает случайного игрока чата для выборов дня.
func (p *Postgres) GetRandomMember(ctx context.Context, chatID int64) (domain.TopDick, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var member domain.TopDick
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT d.user_id, u.name, d.length
FROM dicks d JOIN users u ON u.id = d.user_id
WHERE d.chat_id = $1
ORDER BY random()
LIMIT 1
`, chatID).Scan(&member.UserID, &member.OwnerName, &member.Length)
	metrics.ObserveNetworkRequest("postgres", "dicks_random_member", "dicks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TopDick{}, domain.ErrNoCandidates
	}
	return member, err
}

// ListActiveChats возвращает чаты, где есть хотя бы одна запись.
func (p *Postgres) ListActiveChats(ctx context.Context) ([]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT chat_id FROM dicks`)
	metrics.ObserveNetworkRequest("postgres", "dicks_active_chats", "dicks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

// TakeLoan выдаёт заём: длина растёт на amount, долг фиксируется в той же
// транзакции. Заёмщик обязан уже иметь запись, второй заём при непогашенном
// долге не выдаётся. Блокировки берутся в том же порядке, что и в
// CreateOrGrow (сначала строка долга, потом строка длины), иначе встречные
// /grow и /loan одного игрока взаимоблокируются.
func (p *Postgres) TakeLoan(ctx context.Context, chatID, userID int64, amount int) (*domain.GrowthResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidLoan
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "loans", start, err)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var debt int
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT debt FROM loans WHERE user_id = $1 AND chat_id = $2 FOR UPDATE
`, userID, chatID).Scan(&debt)
	metrics.ObserveNetworkRequest("postgres", "loans_get_for_update", "loans", start, err)
	if err == nil {
		return nil, domain.ErrActiveLoan
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var (
		newLength int
		updatedAt time.Time
	)
	start = time.Now()
	err = tx.QueryRow(ctx, `
UPDATE dicks SET length = length + $3, updated_at = now()
WHERE user_id = $1 AND chat_id = $2
RETURNING length, updated_at
`, userID, chatID, amount).Scan(&newLength, &updatedAt)
	metrics.ObserveNetworkRequest("postgres", "dicks_loan_grow", "dicks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Страховка от гонки двух одновременных займов: оба могли не увидеть
	// строку долга выше, вставка пройдёт только у одного.
	start = time.Now()
	tag, err := tx.Exec(ctx, `
INSERT INTO loans (user_id, chat_id, debt)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, chat_id) DO NOTHING
`, userID, chatID, amount)
	metrics.ObserveNetworkRequest("postgres", "loans_insert", "loans", start, err)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrActiveLoan
	}

	pos, err := p.positionInTop(ctx, tx, chatID, userID, newLength, updatedAt)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "loans", start, err)
	if err != nil {
		return nil, err
	}
	return &domain.GrowthResult{NewLength: newLength, PosInTop: pos}, nil
}

// GetLoan возвращает остаток долга игрока в чате.
func (p *Postgres) GetLoan(ctx context.Context, chatID, userID int64) (domain.Loan, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	loan := domain.Loan{UserID: userID, ChatID: chatID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT debt FROM loans WHERE user_id = $1 AND chat_id = $2
`, userID, chatID).Scan(&loan.Debt)
	metrics.ObserveNetworkRequest("postgres", "loans_get", "loans", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return loan, nil
	}
	return loan, err
}
