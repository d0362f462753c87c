package models

import (
	"strings"
	"time"
)

type UserType string

const (
	StudentType UserType = "student"
	DriverType  UserType = "driver"
)

// Account — общие поля обеих ролей.
type Account struct {
	ID         int64
	TelegramID int64 // 0, если чат не привязан
	Name       string
	Email      string
	CreatedAt  time.Time
}

// User — либо Student, либо Driver (выбор по users.user_type).
type User interface {
	Base() Account
	Type() UserType
}

type Student struct {
	Account
	RegNo      string
	Department string
	DriverID   *int64 // nil — водитель ещё не назначен
}

func (s Student) Base() Account  { return s.Account }
func (s Student) Type() UserType { return StudentType }

type Driver struct {
	Account
	CNIC string
}

func (d Driver) Base() Account  { return d.Account }
func (d Driver) Type() UserType { return DriverType }

// DisplayName — водителей показываем как «Mr. Имя».
func (d Driver) DisplayName() string {
	return DriverDisplayName(d.Name)
}

func DriverDisplayName(name string) string {
	if name == "" {
		return "Driver"
	}
	if strings.HasPrefix(strings.ToLower(name), "mr. ") {
		return name
	}
	return "Mr. " + name
}

// RoomOf — ключ чата (id водителя) для пользователя; false, если студенту не назначен водитель.
func RoomOf(u User) (int64, bool) {
	switch v := u.(type) {
	case Driver:
		return v.ID, true
	case *Driver:
		return v.ID, true
	case Student:
		if v.DriverID == nil {
			return 0, false
		}
		return *v.DriverID, true
	case *Student:
		if v.DriverID == nil {
			return 0, false
		}
		return *v.DriverID, true
	}
	return 0, false
}

// RosterEntry — строка ростера водителя.
type RosterEntry struct {
	ID    int64
	Name  string
	RegNo string
}
