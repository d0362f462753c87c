//go:build testutil
// +build testutil

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db"
	"github.com/Spok95/shuttle-van-bot/internal/models"
)

type DBHandle struct {
	DB     *sql.DB
	DSN    string
	cancel func()
	stop   func(context.Context) error
}

func (h *DBHandle) Close() {
	if h.DB != nil {
		_ = h.DB.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// Start поднимает postgres в контейнере и накатывает goose-миграции.
func Start(ctx context.Context) (*DBHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:17-alpine"),
		postgres.WithDatabase("shuttle"),
		postgres.WithUsername("shuttle"),
		postgres.WithPassword("shuttle"),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}

	database, err := sql.Open("postgres", uri)
	if err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}
	if err := waitReady(ctx, database); err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, err
	}

	if err := db.Migrate(database, zap.NewNop()); err != nil {
		_ = pg.Terminate(ctx)
		cancel()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DBHandle{
		DB:     database,
		DSN:    uri,
		cancel: cancel,
		stop:   pg.Terminate,
	}, nil
}

// MustStart — Start для тестов: падает через t.Fatal и закрывается в t.Cleanup.
func MustStart(t *testing.T) *DBHandle {
	t.Helper()
	h, err := Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func waitReady(ctx context.Context, database *sql.DB) error {
	dead := time.Now().Add(20 * time.Second)
	for time.Now().Before(dead) {
		if err := database.PingContext(ctx); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("db not ready")
}

// SeedDriver / SeedStudent — фикстуры ростера.
func SeedDriver(t testing.TB, database *sql.DB, name string) int64 {
	t.Helper()
	id, err := db.CreateDriver(context.Background(), database, models.Driver{
		Account: models.Account{Name: name, Email: name + "@van.test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func SeedStudent(t testing.TB, database *sql.DB, name string, driverID *int64) int64 {
	t.Helper()
	id, err := db.CreateStudent(context.Background(), database, models.Student{
		Account:  models.Account{Name: name, Email: name + "@van.test"},
		RegNo:    "REG-" + name,
		DriverID: driverID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func Ptr(v int64) *int64 { return &v }
