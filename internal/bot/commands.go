package bot

import (
	"context"
	"fmt"

	"github.com/Spok95/shuttle-van-bot/internal/bot/menu"
	"github.com/Spok95/shuttle-van-bot/internal/bot/shared/fsmutil"
	"github.com/Spok95/shuttle-van-bot/internal/export"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

const unknownCommand = "⚠️ Unknown command. Use /start"

func (b *Bot) handleDriver(ctx context.Context, chatID int64, d models.Driver, cmd command, text string) {
	switch cmd {
	case cmdStart:
		b.replyMenu(chatID, fmt.Sprintf("Welcome, %s! Start a session when the van is at the stop.", d.DisplayName()), menu.GetRoleMenu(models.DriverType))
	case cmdSession:
		b.startSession(ctx, chatID, d)
	case cmdList:
		b.showList(ctx, chatID, d)
	case cmdRemind:
		b.finalReminder(ctx, chatID, d)
	case cmdClose:
		b.closeSession(ctx, chatID, d)
	case cmdExport:
		b.exportSession(ctx, chatID, d)
	case cmdRepair:
		b.repairLedger(ctx, chatID, d)
	case cmdChat:
		b.openChat(ctx, chatID, d)
	case cmdLeave:
		b.leaveChat(chatID, d)
	case cmdNone:
		b.chatText(ctx, chatID, d, text)
	default:
		b.reply(chatID, unknownCommand)
	}
}

func (b *Bot) handleStudent(ctx context.Context, chatID int64, s models.Student, cmd command, text string) {
	switch cmd {
	case cmdStart:
		greet := fmt.Sprintf("Welcome, %s!", s.Name)
		if s.DriverID == nil {
			greet += " No van is assigned to you yet."
		}
		b.replyMenu(chatID, greet, menu.GetRoleMenu(models.StudentType))
	case cmdPresent:
		b.mark(ctx, chatID, s, models.StatusPresent)
	case cmdComing:
		b.mark(ctx, chatID, s, models.StatusComing)
	case cmdChat:
		b.openChat(ctx, chatID, s)
	case cmdLeave:
		b.leaveChat(chatID, s)
	case cmdNone:
		b.chatText(ctx, chatID, s, text)
	default:
		b.reply(chatID, unknownCommand)
	}
}

func (b *Bot) startSession(ctx context.Context, chatID int64, d models.Driver) {
	sess, err := b.att.StartSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	v, err := b.att.DriverView(ctx, d.ID, sess.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.reply(chatID, "Session started.\n\n"+formatView(v, d.Name, b.loc))
}

func (b *Bot) showList(ctx context.Context, chatID int64, d models.Driver) {
	sess, err := b.att.ActiveSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	v, err := b.att.DriverView(ctx, d.ID, sess.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.reply(chatID, formatView(v, d.Name, b.loc))
}

func (b *Bot) finalReminder(ctx context.Context, chatID int64, d models.Driver) {
	if !fsmutil.SetPending(chatID, "remind") {
		b.reply(chatID, "⏳ Already in progress.")
		return
	}
	defer fsmutil.ClearPending(chatID, "remind")

	sess, err := b.att.ActiveSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	res, err := b.att.SendFinalReminder(ctx, d.ID, sess.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.reply(chatID, formatReminder(res))
}

func (b *Bot) closeSession(ctx context.Context, chatID int64, d models.Driver) {
	sess, err := b.att.ActiveSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if err := b.att.CloseSession(ctx, d.ID, sess.ID); err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🛑 Session #%d closed.", sess.ID))
}

// repairLedger досоздаёт записи для студентов, назначенных водителю уже
// после старта сессии.
func (b *Bot) repairLedger(ctx context.Context, chatID int64, d models.Driver) {
	sess, err := b.att.ActiveSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	n, err := b.att.RepairLedger(ctx, sess.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if n == 0 {
		b.reply(chatID, fmt.Sprintf("Session #%d list is complete.", sess.ID))
		return
	}
	b.reply(chatID, fmt.Sprintf("🔧 Added %d student(s) to session #%d.", n, sess.ID))
}

func (b *Bot) exportSession(ctx context.Context, chatID int64, d models.Driver) {
	if !fsmutil.SetPending(chatID, "export") {
		b.reply(chatID, "⏳ Already in progress.")
		return
	}
	defer fsmutil.ClearPending(chatID, "export")

	sess, err := b.att.ActiveSession(ctx, d.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	v, err := b.att.DriverView(ctx, d.ID, sess.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	data, err := export.AttendanceWorkbook(export.AttendanceInput{
		Session:    v.Session,
		DriverName: d.Name,
		Rows:       v.Rows,
		Capacity:   v.Capacity,
		Location:   b.loc,
	})
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	name := export.BuildAttendanceFilename(d.DisplayName(), v.Session.CreatedAt.In(b.loc))
	if err := b.out.SendFile(chatID, name, data, fmt.Sprintf("Session #%d", v.Session.ID)); err != nil {
		b.fail(ctx, chatID, err)
	}
}

func (b *Bot) mark(ctx context.Context, chatID int64, s models.Student, status models.Status) {
	rec, err := b.att.MarkStatusForActive(ctx, s, status)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("%s Marked as %s for session #%d.", statusIcon(rec.Status), rec.Status.Label(), rec.SessionID))
}
