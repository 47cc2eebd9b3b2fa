package domain

import "errors"

var (
	// ErrInvalidChatRef — ссылку на чат не удалось распознать.
	ErrInvalidChatRef = errors.New("некорректная ссылка на чат")
	// ErrChatResolve — алиас чата не удалось разрешить в идентификатор.
	ErrChatResolve = errors.New("не удалось разрешить алиас чата")
	// ErrInvalidLimit — размер страницы топа должен быть положительным.
	ErrInvalidLimit = errors.New("некорректный размер страницы")
	// ErrInvalidOffset — смещение топа не может быть отрицательным.
	ErrInvalidOffset = errors.New("некорректное смещение")
	// ErrInvalidStake — ставка дуэли вне допустимых границ.
	ErrInvalidStake = errors.New("некорректная ставка")
	// ErrInvalidLoan — сумма займа вне допустимых границ.
	ErrInvalidLoan = errors.New("некорректная сумма займа")
	// ErrActiveLoan — у игрока уже есть непогашенный долг.
	ErrActiveLoan = errors.New("долг ещё не погашен")
	// ErrNoUser — игрок ещё не известен системе.
	ErrNoUser = errors.New("игрок не найден")
	// ErrNoDick — у игрока нет записи в этом чате.
	ErrNoDick = errors.New("игрок ещё не начал расти в этом чате")
	// ErrNoCandidates — в чате некого выбирать победителем дня.
	ErrNoCandidates = errors.New("в чате ещё никто не вырос")
	// ErrCacheMiss — ключа в кэше нет.
	ErrCacheMiss = errors.New("ключ не найден")
)
