package domain

import (
	"context"
	"time"
)

// UserRepo управляет игроками.
type UserRepo interface {
	UpsertByTGID(ctx context.Context, tgUserID int64, name string) (User, error)
	GetByTGID(ctx context.Context, tgUserID int64) (User, error)
}

// DickRepo — леджер длин: атомарные изменения и чтение топа.
type DickRepo interface {
	// CreateOrGrow атомарно создаёт запись с длиной delta либо прибавляет
	// delta к существующей и возвращает новую длину вместе с позицией в топе.
	CreateOrGrow(ctx context.Context, userID, chatID int64, delta int) (GrowthResult, error)
	// GetDick возвращает текущую запись игрока; ErrNoDick, если её нет.
	GetDick(ctx context.Context, userID, chatID int64) (Dick, error)
	// GetTop возвращает срез топа чата от offset длиной до limit.
	GetTop(ctx context.Context, chatID int64, offset, limit int) ([]TopDick, error)
	// SetDodWinner начисляет бонус дня только тому, у кого уже есть запись;
	// nil без ошибки означает, что записи не было и ничего не изменилось.
	SetDodWinner(ctx context.Context, chatID, userID int64, bonus uint) (*GrowthResult, error)
	// PvpTransfer переводит ставку от проигравшего победителю одной
	// транзакцией; nil без ошибки — у кого-то из участников нет записи.
	PvpTransfer(ctx context.Context, chatID, winnerID, loserID int64, stake int) (*PvpOutcome, error)
	// GetRandomMember выбирает случайного игрока чата; ErrNoCandidates,
	// если записей нет.
	GetRandomMember(ctx context.Context, chatID int64) (TopDick, error)
	// ListActiveChats возвращает чаты, в которых есть хотя бы одна запись.
	ListActiveChats(ctx context.Context) ([]int64, error)
}

// LoanRepo управляет долгами игроков.
type LoanRepo interface {
	// TakeLoan выдаёт заём: длина растёт на amount, долг фиксируется.
	// nil без ошибки — у игрока нет записи; ErrActiveLoan — долг уже есть.
	TakeLoan(ctx context.Context, chatID, userID int64, amount int) (*GrowthResult, error)
	// GetLoan возвращает остаток долга; нулевой Loan, если долга нет.
	GetLoan(ctx context.Context, chatID, userID int64) (Loan, error)
}

// ChatResolver разрешает публичный алиас чата в числовой идентификатор.
type ChatResolver interface {
	Resolve(ctx context.Context, alias string) (int64, error)
}

// Cache используется для суточных замков и хранения победителя дня.
type Cache interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del снимает замок: сбой после захвата не должен выжигать ключ до TTL.
	Del(ctx context.Context, keys ...string) error
}

// DodQueue — очередь заданий на выбор победителя дня.
type DodQueue interface {
	Enqueue(ctx context.Context, job DodJob) error
	Pop(ctx context.Context) (DodJob, error)
}
