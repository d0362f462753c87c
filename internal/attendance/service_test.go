//go:build testutil
// +build testutil

package attendance_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/Spok95/shuttle-van-bot/internal/attendance"
	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/models"
	"github.com/Spok95/shuttle-van-bot/internal/testutil/testdb"
)

func newService(t *testing.T) (*attendance.Service, *testdb.DBHandle) {
	t.Helper()
	h := testdb.MustStart(t)
	return attendance.New(h.DB, nil, attendance.Options{}), h
}

func TestStartSession_SeedsOnePendingRecordPerRosterStudent(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)

	d := testdb.SeedDriver(t, h.DB, "Aslam")
	other := testdb.SeedDriver(t, h.DB, "Bilal")
	roster := []int64{
		testdb.SeedStudent(t, h.DB, "Ayesha", testdb.Ptr(d)),
		testdb.SeedStudent(t, h.DB, "Bushra", testdb.Ptr(d)),
		testdb.SeedStudent(t, h.DB, "Danish", testdb.Ptr(d)),
	}
	testdb.SeedStudent(t, h.DB, "Omar", testdb.Ptr(other))
	testdb.SeedStudent(t, h.DB, "Unassigned", nil)

	sess, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Active || sess.DriverID != d {
		t.Fatalf("unexpected session %+v", sess)
	}

	recs, err := svc.Ledger(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != len(roster) {
		t.Fatalf("want %d records, got %d", len(roster), len(recs))
	}
	for _, r := range recs {
		if r.Status != models.StatusComing {
			t.Fatalf("student %d: want coming, got %s", r.StudentID, r.Status)
		}
	}
}

func TestStartSession_DeactivatesPrevious(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "Aslam")
	testdb.SeedStudent(t, h.DB, "Ayesha", testdb.Ptr(d))

	first, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}

	active, err := svc.ActiveSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Fatalf("active session: want %d, got %d", second.ID, active.ID)
	}
	old, err := db.GetSession(ctx, h.DB, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Active {
		t.Fatal("previous session must be deactivated")
	}
}

func TestStartSession_ConcurrentStartsLeaveOneActive(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "Aslam")
	testdb.SeedStudent(t, h.DB, "Ayesha", testdb.Ptr(d))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.StartSession(ctx, d)
		}()
	}
	wg.Wait()

	var n int
	if err := h.DB.QueryRow(`SELECT count(*) FROM sessions WHERE driver_id = $1 AND active`, d).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("want exactly one active session, got %d", n)
	}
	var orphans int
	if err := h.DB.QueryRow(`
		SELECT count(*) FROM sessions s
		WHERE s.driver_id = $1 AND NOT EXISTS (SELECT 1 FROM attendance a WHERE a.session_id = s.id)
	`, d).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Fatalf("found %d sessions without ledger", orphans)
	}
}

func TestStartSession_UnknownDriverLeavesNothing(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)

	if _, err := svc.StartSession(ctx, 999999); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := svc.StartSession(ctx, 0); !errors.Is(err, attendance.ErrNoDriver) {
		t.Fatalf("want ErrNoDriver, got %v", err)
	}
	var n int
	if err := h.DB.QueryRow(`SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("want no sessions, got %d", n)
	}
}

func TestMarkStatus_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "Aslam")
	a := testdb.SeedStudent(t, h.DB, "Ayesha", testdb.Ptr(d))

	sess, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.MarkStatus(ctx, a, sess.ID, models.StatusPresent); err != nil {
		t.Fatal(err)
	}
	rec, err := svc.Record(ctx, sess.ID, a)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusPresent {
		t.Fatalf("want present, got %s", rec.Status)
	}

	if _, err := svc.MarkStatus(ctx, a, sess.ID, models.StatusComing); err != nil {
		t.Fatal(err)
	}
	rec, err = svc.Record(ctx, sess.ID, a)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusComing {
		t.Fatalf("want coming, got %s", rec.Status)
	}
}

func TestMarkStatus_Preconditions(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "Aslam")
	a := testdb.SeedStudent(t, h.DB, "Ayesha", testdb.Ptr(d))
	stranger := testdb.SeedStudent(t, h.DB, "Stranger", nil)

	sess, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("absent_rejected", func(t *testing.T) {
		if _, err := svc.MarkStatus(ctx, a, sess.ID, models.StatusAbsent); !errors.Is(err, attendance.ErrInvalidStatus) {
			t.Fatalf("want ErrInvalidStatus, got %v", err)
		}
	})
	t.Run("missing_record", func(t *testing.T) {
		if _, err := svc.MarkStatus(ctx, stranger, sess.ID, models.StatusPresent); !errors.Is(err, attendance.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
	t.Run("no_van_assigned", func(t *testing.T) {
		st := models.Student{Account: models.Account{ID: stranger}}
		if _, err := svc.MarkStatusForActive(ctx, st, models.StatusPresent); !errors.Is(err, attendance.ErrNoAssignedVan) {
			t.Fatalf("want ErrNoAssignedVan, got %v", err)
		}
	})
	t.Run("active_session_lookup", func(t *testing.T) {
		st := models.Student{Account: models.Account{ID: a}, DriverID: testdb.Ptr(d)}
		rec, err := svc.MarkStatusForActive(ctx, st, models.StatusPresent)
		if err != nil {
			t.Fatal(err)
		}
		if rec.SessionID != sess.ID {
			t.Fatalf("marked session %d, want %d", rec.SessionID, sess.ID)
		}
	})
	t.Run("superseded_session", func(t *testing.T) {
		next, err := svc.StartSession(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.MarkStatus(ctx, a, sess.ID, models.StatusComing); !errors.Is(err, attendance.ErrSessionClosed) {
			t.Fatalf("want ErrSessionClosed, got %v", err)
		}
		rec, err := svc.Record(ctx, sess.ID, a)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != models.StatusPresent {
			t.Fatalf("superseded record changed to %s", rec.Status)
		}
		sess = next
	})
	t.Run("closed_session", func(t *testing.T) {
		if err := svc.CloseSession(ctx, d, sess.ID); err != nil {
			t.Fatal(err)
		}
		st := models.Student{Account: models.Account{ID: a}, DriverID: testdb.Ptr(d)}
		if _, err := svc.MarkStatusForActive(ctx, st, models.StatusPresent); !errors.Is(err, attendance.ErrNoActiveSession) {
			t.Fatalf("want ErrNoActiveSession, got %v", err)
		}
		if _, err := svc.MarkStatus(ctx, a, sess.ID, models.StatusPresent); !errors.Is(err, attendance.ErrSessionClosed) {
			t.Fatalf("want ErrSessionClosed, got %v", err)
		}
		rec, err := svc.Record(ctx, sess.ID, a)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != models.StatusComing {
			t.Fatalf("closed record changed to %s", rec.Status)
		}
	})
}

// Водитель D, студенты A и B: напоминание уходит только тем, кто не present.
func TestFinalReminder_Scenario(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "D")
	a := testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))
	b := testdb.SeedStudent(t, h.DB, "B", testdb.Ptr(d))

	s1, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MarkStatus(ctx, a, s1.ID, models.StatusPresent); err != nil {
		t.Fatal(err)
	}

	res, err := svc.SendFinalReminder(ctx, d, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].StudentID != b || res[0].NotificationID == 0 {
		t.Fatalf("want one notification for B, got %+v", res)
	}

	if _, err := svc.MarkStatus(ctx, b, s1.ID, models.StatusPresent); err != nil {
		t.Fatal(err)
	}
	res, err = svc.SendFinalReminder(ctx, d, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Fatalf("want zero notifications, got %+v", res)
	}

	n, err := db.CountNotifications(ctx, h.DB, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("want 1 notification row, got %d", n)
	}
	var (
		recipient int64
		text      string
	)
	if err := h.DB.QueryRow(`SELECT recipient_id, message FROM notifications WHERE session_id = $1`, s1.ID).Scan(&recipient, &text); err != nil {
		t.Fatal(err)
	}
	if recipient != b || text != "Van is leaving in 5 minutes! Hurry up." {
		t.Fatalf("unexpected notification to %d: %q", recipient, text)
	}
}

// blockRecipients заставляет вставку уведомления падать для перечисленных получателей.
func blockRecipients(t *testing.T, database *sql.DB, ids ...int64) {
	t.Helper()
	if _, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS blocked_recipients (recipient_id BIGINT PRIMARY KEY);
		CREATE OR REPLACE FUNCTION reject_blocked_recipient() RETURNS trigger AS $$
		BEGIN
			IF EXISTS (SELECT 1 FROM blocked_recipients WHERE recipient_id = NEW.recipient_id) THEN
				RAISE EXCEPTION 'recipient % is blocked', NEW.recipient_id;
			END IF;
			RETURN NEW;
		END $$ LANGUAGE plpgsql;
		DROP TRIGGER IF EXISTS reject_blocked_recipient ON notifications;
		CREATE TRIGGER reject_blocked_recipient BEFORE INSERT ON notifications
			FOR EACH ROW EXECUTE FUNCTION reject_blocked_recipient();
	`); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if _, err := database.Exec(`INSERT INTO blocked_recipients (recipient_id) VALUES ($1) ON CONFLICT DO NOTHING`, id); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFinalReminder_PartialFailure(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "D")
	a := testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))
	b := testdb.SeedStudent(t, h.DB, "B", testdb.Ptr(d))

	s1, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("one_insert_fails", func(t *testing.T) {
		blockRecipients(t, h.DB, a)
		res, err := svc.SendFinalReminder(ctx, d, s1.ID)
		if err != nil {
			t.Fatalf("partial failure must not fail the call: %v", err)
		}
		if len(res) != 2 {
			t.Fatalf("want a result per recipient, got %+v", res)
		}
		byStudent := map[int64]attendance.ReminderResult{}
		for _, r := range res {
			byStudent[r.StudentID] = r
		}
		if r := byStudent[a]; r.Err == nil || r.NotificationID != 0 {
			t.Fatalf("blocked recipient: %+v", r)
		}
		if r := byStudent[b]; r.Err != nil || r.NotificationID == 0 {
			t.Fatalf("healthy recipient: %+v", r)
		}
		if attendance.Sent(res) != 1 {
			t.Fatalf("sent %d", attendance.Sent(res))
		}
	})

	t.Run("every_insert_fails", func(t *testing.T) {
		blockRecipients(t, h.DB, b)
		res, err := svc.SendFinalReminder(ctx, d, s1.ID)
		if err == nil {
			t.Fatal("want an error when nothing was inserted")
		}
		if len(res) != 2 || attendance.Sent(res) != 0 {
			t.Fatalf("want two failed results, got %+v", res)
		}
		for _, r := range res {
			if r.Err == nil {
				t.Fatalf("result without error: %+v", r)
			}
		}
	})

	n, err := db.CountNotifications(ctx, h.DB, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("only the first healthy insert must persist, got %d", n)
	}
}

func TestFinalReminder_ForeignSession(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "D")
	e := testdb.SeedDriver(t, h.DB, "E")
	testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))

	s1, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendFinalReminder(ctx, e, s1.ID); !errors.Is(err, attendance.ErrForeignSession) {
		t.Fatalf("want ErrForeignSession, got %v", err)
	}
	if _, err := svc.SendFinalReminder(ctx, d, s1.ID+100); !errors.Is(err, attendance.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestFetchViewList(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "D")

	t.Run("empty_session", func(t *testing.T) {
		s, err := svc.StartSession(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		rows, err := svc.FetchViewList(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if rows == nil || len(rows) != 0 {
			t.Fatalf("want empty non-nil slice, got %#v", rows)
		}
	})

	t.Run("driver_view", func(t *testing.T) {
		a := testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))
		testdb.SeedStudent(t, h.DB, "B", testdb.Ptr(d))
		s, err := svc.StartSession(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.MarkStatus(ctx, a, s.ID, models.StatusPresent); err != nil {
			t.Fatal(err)
		}
		v, err := svc.DriverView(ctx, d, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(v.Rows) != 2 || v.Present != 1 || v.Coming != 1 || v.Capacity != 12 {
			t.Fatalf("unexpected view %+v", v)
		}
		if v.Rows[0].Name != "A" || v.Rows[0].RegNo != "REG-A" {
			t.Fatalf("roster fields not joined: %+v", v.Rows[0])
		}
	})
}

func TestRepairLedger_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, h := newService(t)
	d := testdb.SeedDriver(t, h.DB, "D")
	testdb.SeedStudent(t, h.DB, "A", testdb.Ptr(d))

	s, err := svc.StartSession(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	n, err := svc.RepairLedger(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("full ledger: want 0 inserted, got %d", n)
	}

	testdb.SeedStudent(t, h.DB, "Late", testdb.Ptr(d))
	n, err = svc.RepairLedger(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("want 1 inserted for the new student, got %d", n)
	}
}
