package domain

import "testing"

func TestParseChatRef(t *testing.T) {
	cases := map[string]ChatRef{
		"-1001234567890":       ChatRefByID(-1001234567890),
		"42":                   ChatRefByID(42),
		"@example":             ChatRefByAlias("example"),
		"@ExAmPlE":             ChatRefByAlias("example"),
		"t.me/golang":          ChatRefByAlias("golang"),
		"https://t.me/gophers": ChatRefByAlias("gophers"),
	}
	for input, expected := range cases {
		ref, err := ParseChatRef(input)
		if err != nil {
			t.Fatalf("не ожидали ошибку для %q: %v", input, err)
		}
		if ref != expected {
			t.Fatalf("для %q ожидали %v, получили %v", input, expected, ref)
		}
	}
}

func TestParseChatRefInvalid(t *testing.T) {
	for _, input := range []string{"", "   ", "@ab", "!!!", "https://t.me/"} {
		if _, err := ParseChatRef(input); err == nil {
			t.Fatalf("ожидали ошибку для %q", input)
		}
	}
}

func TestChatRefResolved(t *testing.T) {
	id, ok := ChatRefByID(7).Resolved()
	if !ok || id != 7 {
		t.Fatalf("ожидали разрешённую ссылку на чат 7, получили %d, %v", id, ok)
	}
	if _, ok := ChatRefByAlias("example").Resolved(); ok {
		t.Fatal("алиас не должен считаться разрешённым")
	}
	if got := ChatRefByAlias("example").String(); got != "@example" {
		t.Fatalf("ожидали @example, получили %s", got)
	}
}
