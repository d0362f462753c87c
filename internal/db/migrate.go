package db

import (
	"database/sql"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/db/migrations"
)

// Migrate накатывает встроенные goose-миграции.
func Migrate(database *sql.DB, log *zap.Logger) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(zap.NewStdLog(log.Named("goose")))
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(database, "."); err != nil {
		log.Error("migration failed", zap.Error(err))
		return err
	}
	v, err := goose.GetDBVersion(database)
	if err != nil {
		return err
	}
	log.Info("migrations applied", zap.Int64("version", v))
	return nil
}
