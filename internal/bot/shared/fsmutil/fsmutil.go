package fsmutil

import (
	"strings"
	"sync"
)

// pending — простая защита от повторной обработки "тяжёлых" действий.
// Ключ — chatID; значение — произвольный ключ контекста (например "export" или "remind").
var pending = struct {
	mu sync.Mutex
	m  map[int64]string
}{
	m: make(map[int64]string),
}

// SetPending помечает чат как "в обработке" для ключа key.
// Возвращает false, если уже что-то обрабатывается (т.е. нельзя запускать ещё одно действие).
func SetPending(chatID int64, key string) bool {
	pending.mu.Lock()
	defer pending.mu.Unlock()

	if _, ok := pending.m[chatID]; ok {
		return false
	}
	pending.m[chatID] = key
	return true
}

// ClearPending снимает флаг "в обработке", если ключ совпал.
func ClearPending(chatID int64, key string) {
	pending.mu.Lock()
	defer pending.mu.Unlock()

	if cur, ok := pending.m[chatID]; ok && cur == key {
		delete(pending.m, chatID)
	}
}

// IsCancelText — текстовая отмена: "cancel", "/cancel", "отмена" (регистр/пробелы игнорим).
func IsCancelText(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s == "отмена" || s == "/cancel" || s == "cancel"
}
