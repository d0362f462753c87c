package menu

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/shuttle-van-bot/internal/models"
)

// Подписи кнопок; диспетчер принимает их наравне с командами.
const (
	BtnStartSession = "🚐 Start session"
	BtnList         = "📋 Attendance"
	BtnRemind       = "⏰ Final reminder"
	BtnClose        = "🛑 Close session"
	BtnExport       = "📥 Export"
	BtnPresent      = "✅ I'm in the van"
	BtnComing       = "🚶 Coming"
	BtnChat         = "💬 Group chat"
	BtnLeave        = "🚪 Leave chat"
)

// GetRoleMenu возвращает меню в зависимости от типа пользователя
func GetRoleMenu(t models.UserType) tgbotapi.ReplyKeyboardMarkup {
	switch t {
	case models.DriverType:
		return driverMenu()
	case models.StudentType:
		return studentMenu()
	default:
		return tgbotapi.NewReplyKeyboard() // пустое меню
	}
}

func driverMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnStartSession),
			tgbotapi.NewKeyboardButton(BtnList),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnRemind),
			tgbotapi.NewKeyboardButton(BtnClose),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnExport),
			tgbotapi.NewKeyboardButton(BtnChat),
		),
	)
}

func studentMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnPresent),
			tgbotapi.NewKeyboardButton(BtnComing),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnChat),
		),
	)
}

// ChatMenu — клавиатура в режиме чата.
func ChatMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnLeave),
		),
	)
}
