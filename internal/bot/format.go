package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/Spok95/shuttle-van-bot/internal/attendance"
	"github.com/Spok95/shuttle-van-bot/internal/bot/menu"
	"github.com/Spok95/shuttle-van-bot/internal/messaging"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

type command string

const (
	cmdStart   command = "/start"
	cmdSession command = "/session"
	cmdClose   command = "/close"
	cmdList    command = "/list"
	cmdRemind  command = "/remind"
	cmdExport  command = "/export"
	cmdPresent command = "/present"
	cmdComing  command = "/coming"
	cmdChat    command = "/chat"
	cmdLeave   command = "/leave"
	cmdRepair  command = "/repair"
	cmdNone    command = ""
)

var buttons = map[string]command{
	menu.BtnStartSession: cmdSession,
	menu.BtnList:         cmdList,
	menu.BtnRemind:       cmdRemind,
	menu.BtnClose:        cmdClose,
	menu.BtnExport:       cmdExport,
	menu.BtnPresent:      cmdPresent,
	menu.BtnComing:       cmdComing,
	menu.BtnChat:         cmdChat,
	menu.BtnLeave:        cmdLeave,
}

// parseCommand: "/list@shuttle_bot" → /list; подпись кнопки → её команда;
// прочий текст → cmdNone.
func parseCommand(text string) command {
	text = strings.TrimSpace(text)
	if c, ok := buttons[text]; ok {
		return c
	}
	if !strings.HasPrefix(text, "/") {
		return cmdNone
	}
	word := strings.Fields(text)[0]
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}
	switch c := command(strings.ToLower(word)); c {
	case cmdStart, cmdSession, cmdClose, cmdList, cmdRemind, cmdExport,
		cmdPresent, cmdComing, cmdChat, cmdLeave, cmdRepair:
		return c
	}
	return command(word)
}

// userError — одна строка для пользователя.
func userError(err error) string {
	return "⚠️ " + err.Error()
}

// expected — ошибки предусловий; в Sentry не уходят.
func expected(err error) bool {
	for _, e := range []error{
		attendance.ErrNotFound, attendance.ErrInvalidStatus, attendance.ErrNoActiveSession,
		attendance.ErrSessionNotFound, attendance.ErrForeignSession, attendance.ErrNoDriver,
		attendance.ErrNoAssignedVan, attendance.ErrSessionClosed, messaging.ErrEmptyMessage, messaging.ErrMessageTooLong,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func formatView(v attendance.View, driverName string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚐 Session #%d · %s · %s\n", v.Session.ID, models.DriverDisplayName(driverName), v.Session.CreatedAt.In(loc).Format("02.01 15:04"))
	fmt.Fprintf(&b, "Present: %d/%d · Coming: %d · Absent: %d\n", v.Present, v.Capacity, v.Coming, v.Absent)
	if len(v.Rows) == 0 {
		b.WriteString("\nNo students on the roster.")
		return b.String()
	}
	b.WriteString("\n")
	for i, r := range v.Rows {
		fmt.Fprintf(&b, "%d. %s %s", i+1, statusIcon(r.Status), r.Name)
		if r.RegNo != "" {
			fmt.Fprintf(&b, " (%s)", r.RegNo)
		}
		fmt.Fprintf(&b, " · %s\n", r.Status.Label())
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusIcon(s models.Status) string {
	switch s {
	case models.StatusPresent:
		return "✅"
	case models.StatusComing:
		return "🚶"
	default:
		return "❌"
	}
}

func formatReminder(res []attendance.ReminderResult) string {
	sent := attendance.Sent(res)
	if len(res) == 0 {
		return "Everyone is in the van. No reminders sent."
	}
	out := fmt.Sprintf("⏰ Reminder sent to %d student(s).", sent)
	if failed := len(res) - sent; failed > 0 {
		out += fmt.Sprintf(" Failed: %d.", failed)
	}
	return out
}

func formatEntry(e messaging.Entry, loc *time.Location) string {
	return fmt.Sprintf("[%s] %s: %s", e.CreatedAt.In(loc).Format("15:04"), e.SenderName, e.Text)
}

// telegramTextLimit — предел длины текста sendMessage в UTF-16 единицах.
const telegramTextLimit = 4096

// formatHistory раскладывает чат по сообщениям телеграма: title в первом,
// footer в последнем, каждое не длиннее telegramTextLimit.
func formatHistory(title string, entries []messaging.Entry, footer string, loc *time.Location) []string {
	lines := make([]string, 0, len(entries)+4)
	lines = append(lines, title, "")
	if len(entries) == 0 {
		lines = append(lines, "No messages yet.")
	}
	for _, e := range entries {
		lines = append(lines, formatEntry(e, loc))
	}
	lines = append(lines, "", footer)
	return splitText(lines, telegramTextLimit)
}

// splitText склеивает строки через \n в куски не длиннее limit.
// Строка длиннее limit режется по рунам.
func splitText(lines []string, limit int) []string {
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
		cur.Reset()
		n = 0
	}
	for _, line := range lines {
		for _, piece := range cutLine(line, limit) {
			pl := textLen(piece)
			if cur.Len() > 0 && n+1+pl > limit {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte('\n')
				n++
			}
			cur.WriteString(piece)
			n += pl
		}
	}
	flush()
	return out
}

func cutLine(line string, limit int) []string {
	if textLen(line) <= limit {
		return []string{line}
	}
	var (
		out []string
		buf []rune
		n   int
	)
	for _, r := range line {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > limit {
			out = append(out, string(buf))
			buf, n = buf[:0], 0
		}
		buf = append(buf, r)
		n += w
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}
	return out
}

// textLen — длина в UTF-16 единицах, как её считает телеграм.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		if w := utf16.RuneLen(r); w > 0 {
			n += w
		} else {
			n++
		}
	}
	return n
}
