package models

import "time"

type Session struct {
	ID        int64
	DriverID  int64
	Active    bool
	CreatedAt time.Time
}
