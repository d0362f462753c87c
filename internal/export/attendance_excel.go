package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/shuttle-van-bot/internal/models"
)

const (
	SheetAttendance = "Attendance"
	SheetSummary    = "Summary"
)

// Sheet — заголовок и строки одного листа.
type Sheet struct {
	Title  string
	Header []string
	Rows   [][]string
}

// AttendanceInput — всё, что нужно для выгрузки одной сессии.
type AttendanceInput struct {
	Session    models.Session
	DriverName string
	Rows       []models.ViewRow
	Capacity   int
	Location   *time.Location
}

// AttendanceSheets раскладывает сессию по двум листам: список и сводка.
func AttendanceSheets(in AttendanceInput) []Sheet {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	list := Sheet{
		Title:  SheetAttendance,
		Header: []string{"#", "Name", "Reg. No", "Status"},
	}
	var present, coming, absent int
	for i, r := range in.Rows {
		list.Rows = append(list.Rows, []string{
			strconv.Itoa(i + 1), r.Name, r.RegNo, r.Status.Label(),
		})
		switch r.Status {
		case models.StatusPresent:
			present++
		case models.StatusComing:
			coming++
		default:
			absent++
		}
	}

	summary := Sheet{
		Title:  SheetSummary,
		Header: []string{"Field", "Value"},
		Rows: [][]string{
			{"Session", strconv.FormatInt(in.Session.ID, 10)},
			{"Driver", models.DriverDisplayName(in.DriverName)},
			{"Started", in.Session.CreatedAt.In(loc).Format("2006-01-02 15:04")},
			{"Present", fmt.Sprintf("%d/%d", present, in.Capacity)},
			{"Coming", strconv.Itoa(coming)},
			{"Absent", strconv.Itoa(absent)},
		},
	}
	return []Sheet{list, summary}
}

// AttendanceWorkbook собирает xlsx в память.
func AttendanceWorkbook(in AttendanceInput) ([]byte, error) {
	f, err := NewWorkbook(AttendanceSheets(in))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// NewWorkbook — книга из листов; первый занимает место стандартного Sheet1.
func NewWorkbook(sheets []Sheet) (*excelize.File, error) {
	f := excelize.NewFile()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Title); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.Title); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("new sheet: %w", err)
		}

		for col, h := range s.Header {
			cell := fmt.Sprintf("%s1", columnName(col+1))
			if err := f.SetCellStr(s.Title, cell, h); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		for r, row := range s.Rows {
			for c, val := range row {
				cell := fmt.Sprintf("%s%d", columnName(c+1), r+2)
				if err := f.SetCellStr(s.Title, cell, val); err != nil {
					_ = f.Close()
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
		}
		if err := ApplyDefaultExcelFormatting(f, s.Title); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("format %s: %w", s.Title, err)
		}
	}
	return f, nil
}
