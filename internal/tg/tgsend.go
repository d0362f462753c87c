package tg

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shuttle-van-bot/internal/observability"
)

// IsSystemErr: временный сбой, запрос стоит повторить. Сюда относятся сеть
// (обрыв, DNS, отказ в соединении), таймауты, 429 и 5xx.
func IsSystemErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"429", "too many requests", "timeout",
	"500", "internal server error", "502", "bad gateway", "503", "service unavailable", "504",
	"connection refused", "connection reset", "no such host", "broken pipe", "eof",
}

// IsPermanentErr: телеграм отказал окончательно (400/403: чат не найден,
// бот заблокирован). Повтор такого запроса бессмысленен.
func IsPermanentErr(err error) bool {
	if err == nil || IsSystemErr(err) {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusForbidden
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "bad request") ||
		strings.Contains(s, "forbidden") ||
		strings.Contains(s, "chat not found") ||
		strings.Contains(s, "bot was blocked")
}

func Send(bot *tgbotapi.BotAPI, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	m, err := bot.Send(msg)
	if IsSystemErr(err) {
		observability.CaptureErr(err)
	}
	return m, err
}

func Request(bot *tgbotapi.BotAPI, req tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r, err := bot.Request(req)
	if IsSystemErr(err) {
		observability.CaptureErr(err)
	}
	return r, err
}

// Client — обёртка над BotAPI для джобов и чат-моста.
type Client struct {
	Bot *tgbotapi.BotAPI
}

func (c Client) SendText(chatID int64, text string) error {
	_, err := Send(c.Bot, tgbotapi.NewMessage(chatID, text))
	return err
}

// SendMarkup — текст с клавиатурой (reply или inline).
func (c Client) SendMarkup(chatID int64, text string, markup any) error {
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = markup
	_, err := Send(c.Bot, m)
	return err
}

// SendFile отправляет файл из памяти (выгрузки xlsx).
func (c Client) SendFile(chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	_, err := Send(c.Bot, doc)
	return err
}
