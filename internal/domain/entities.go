package domain

import "time"

// User описывает игрока Telegram в системе.
type User struct {
	ID        int64
	TGUserID  int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dick хранит длину игрока в конкретном чате.
// Длина может быть отрицательной: долги и проигрыши в PvP — часть игры.
type Dick struct {
	UserID    int64
	ChatID    int64
	Length    int
	UpdatedAt time.Time
}

// GrowthResult возвращается леджером после изменения длины.
// PosInTop равен nil, если подсчёт позиции выключен конфигурацией.
type GrowthResult struct {
	NewLength int
	PosInTop  *int
}

// TopDick — одна строка топа чата.
type TopDick struct {
	UserID    int64
	OwnerName string
	Length    int
}

// PvpOutcome описывает результат дуэли после перевода ставки.
type PvpOutcome struct {
	WinnerID     int64
	LoserID      int64
	Stake        int
	WinnerLength int
	LoserLength  int
}

// Loan хранит остаток долга игрока в чате.
type Loan struct {
	UserID int64
	ChatID int64
	Debt   int
}
