package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/shuttle-van-bot/internal/models"
)

func TestAttendanceWorkbook(t *testing.T) {
	in := AttendanceInput{
		Session:    models.Session{ID: 7, DriverID: 1, Active: true, CreatedAt: time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)},
		DriverName: "Aslam",
		Capacity:   12,
		Location:   time.FixedZone("PKT", 5*3600),
		Rows: []models.ViewRow{
			{StudentID: 2, Name: "Alice", RegNo: "REG-1", Status: models.StatusPresent},
			{StudentID: 3, Name: "Bob", RegNo: "REG-2", Status: models.StatusComing},
			{StudentID: 4, Name: "Carl", RegNo: "REG-3", Status: models.StatusAbsent},
		},
	}
	data, err := AttendanceWorkbook(in)
	if err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if got := f.GetSheetList(); len(got) != 2 || got[0] != SheetAttendance || got[1] != SheetSummary {
		t.Fatalf("sheets %v", got)
	}

	rows, err := f.GetRows(SheetAttendance)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("want header plus 3 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], "|") != "#|Name|Reg. No|Status" {
		t.Fatalf("header %v", rows[0])
	}
	if rows[1][1] != "Alice" || rows[1][3] != "Present" || rows[2][3] != "Coming" || rows[3][3] != "Absent" {
		t.Fatalf("rows %v", rows[1:])
	}

	summary, err := f.GetRows(SheetSummary)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"Driver":  "Mr. Aslam",
		"Started": "2025-03-01 07:30",
		"Present": "1/12",
		"Coming":  "1",
		"Absent":  "1",
	}
	for _, r := range summary[1:] {
		if w, ok := want[r[0]]; ok && r[1] != w {
			t.Fatalf("%s: got %q, want %q", r[0], r[1], w)
		}
	}
}

func TestAttendanceSheets_Empty(t *testing.T) {
	sheets := AttendanceSheets(AttendanceInput{Capacity: 12})
	if len(sheets[0].Rows) != 0 {
		t.Fatalf("want no rows, got %v", sheets[0].Rows)
	}
	if _, err := NewWorkbook(sheets); err != nil {
		t.Fatal(err)
	}
}

func TestBuildAttendanceFilename(t *testing.T) {
	got := BuildAttendanceFilename("Mr. Aslam/Khan", time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC))
	if got != "Attendance — Mr. Aslam_Khan — 2025-03-01 07-30.xlsx" {
		t.Fatalf("got %q", got)
	}
	if got := BuildAttendanceFilename("  ", time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC)); !strings.Contains(got, "— — ") {
		t.Fatalf("empty name: %q", got)
	}
}

func TestColumnName(t *testing.T) {
	for n, want := range map[int]string{1: "A", 26: "Z", 27: "AA", 52: "AZ", 53: "BA"} {
		if got := columnName(n); got != want {
			t.Fatalf("columnName(%d) = %q, want %q", n, got, want)
		}
	}
}
