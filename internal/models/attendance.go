package models

import (
	"fmt"
	"time"
)

type Status string

const (
	// StatusComing — начальное («pending») состояние после сброса леджера.
	StatusComing  Status = "coming"
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusComing, StatusPresent, StatusAbsent:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown attendance status %q", s)
}

// StudentSettable — статусы, которые студент может выставить сам.
func (s Status) StudentSettable() bool {
	return s == StatusComing || s == StatusPresent
}

// Label — подпись для интерфейса.
func (s Status) Label() string {
	switch s {
	case StatusPresent:
		return "Present"
	case StatusComing:
		return "Coming"
	default:
		return "Absent"
	}
}

type AttendanceRecord struct {
	SessionID int64
	StudentID int64
	Status    Status
	UpdatedAt time.Time
}

// ViewRow — строка списка водителя: запись леджера + поля ростера.
type ViewRow struct {
	SessionID int64
	StudentID int64
	Status    Status
	Name      string
	RegNo     string
	DriverID  *int64
}
