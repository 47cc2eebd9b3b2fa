package domain

import (
	"time"

	"github.com/google/uuid"
)

// DodJob — задание на выбор победителя дня в конкретном чате.
type DodJob struct {
	ID     uuid.UUID `json:"id"`
	ChatID int64     `json:"chat_id"`
	Date   time.Time `json:"date"`
}

// NewDodJob создаёт задание на указанную дату (UTC, без времени).
func NewDodJob(chatID int64, date time.Time) DodJob {
	return DodJob{
		ID:     uuid.New(),
		ChatID: chatID,
		Date:   date.UTC().Truncate(24 * time.Hour),
	}
}
