package bot

import (
	"context"

	"github.com/Spok95/shuttle-van-bot/internal/bot/menu"
	"github.com/Spok95/shuttle-van-bot/internal/bot/shared/fsmutil"
	"github.com/Spok95/shuttle-van-bot/internal/messaging"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

const noRoom = "No van is assigned to you yet, the group chat is unavailable."

// openChat включает режим чата: история комнаты и живые сообщения.
func (b *Bot) openChat(ctx context.Context, chatID int64, u models.User) {
	s, err := b.chats.Open(ctx, u)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	room, ok := s.Room()
	if !ok {
		b.chats.Close(u.Base().ID)
		b.reply(chatID, noRoom)
		return
	}
	parts := formatHistory("💬 "+s.SenderName(room)+" · group chat", s.Entries(),
		"Type a message to send it to the group. /leave to exit.", b.loc)
	for _, p := range parts[:len(parts)-1] {
		b.reply(chatID, p)
	}
	b.replyMenu(chatID, parts[len(parts)-1], menu.ChatMenu())
}

func (b *Bot) leaveChat(chatID int64, u models.User) {
	b.chats.Close(u.Base().ID)
	b.replyMenu(chatID, "You left the group chat.", menu.GetRoleMenu(u.Type()))
}

// chatText — обычный текст: в режиме чата уходит в комнату.
func (b *Bot) chatText(ctx context.Context, chatID int64, u models.User, text string) {
	s, ok := b.chats.Get(u.Base().ID)
	if !ok {
		b.reply(chatID, unknownCommand)
		return
	}
	if fsmutil.IsCancelText(text) {
		b.leaveChat(chatID, u)
		return
	}
	if s.State() == messaging.Unresolved {
		b.reply(chatID, noRoom)
		return
	}
	if _, err := s.Send(ctx, text); err != nil {
		b.fail(ctx, chatID, err)
	}
}
