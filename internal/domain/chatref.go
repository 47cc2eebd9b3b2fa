package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var chatAliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})$`)

// ChatRef указывает на чат либо числовым идентификатором, либо
// публичным алиасом, который ещё предстоит разрешить через Bot API.
type ChatRef struct {
	id    int64
	alias string
}

// ChatRefByID создаёт ссылку на чат по известному идентификатору.
func ChatRefByID(id int64) ChatRef {
	return ChatRef{id: id}
}

// ChatRefByAlias создаёт ссылку на чат по публичному алиасу.
func ChatRefByAlias(alias string) ChatRef {
	return ChatRef{alias: strings.ToLower(alias)}
}

// ParseChatRef приводит пользовательский ввод к ссылке на чат:
// число трактуется как идентификатор, @alias и t.me-ссылки — как алиас.
func ParseChatRef(input string) (ChatRef, error) {
	trim := strings.TrimSpace(input)
	if trim == "" {
		return ChatRef{}, ErrInvalidChatRef
	}
	if id, err := strconv.ParseInt(trim, 10, 64); err == nil {
		return ChatRefByID(id), nil
	}
	matches := chatAliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return ChatRef{}, ErrInvalidChatRef
	}
	return ChatRefByAlias(matches[1]), nil
}

// Resolved возвращает идентификатор чата, если он уже известен.
func (r ChatRef) Resolved() (int64, bool) {
	return r.id, r.alias == "" && r.id != 0
}

// Alias возвращает алиас для неразрешённой ссылки.
func (r ChatRef) Alias() string {
	return r.alias
}

func (r ChatRef) String() string {
	if r.alias != "" {
		return "@" + r.alias
	}
	return fmt.Sprintf("%d", r.id)
}
