package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/observability"
)

type Job func(ctx context.Context) error

type Runner struct {
	ctx context.Context
	log *zap.Logger
}

func New(ctx context.Context, log *zap.Logger) *Runner {
	return &Runner{ctx: ctx, log: logging.OrNop(log)}
}

// Every запускает fn по тикеру до отмены контекста раннера.
// Паника внутри fn считается ошибкой запуска и уходит в Sentry.
func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	r.EveryOr(interval, nil, name, fn)
}

// EveryOr — Every плюс внеочередной запуск по сигналу из kick. Запуски
// одного джоба не пересекаются; закрытый kick оставляет только тикер.
func (r *Runner) EveryOr(interval time.Duration, kick <-chan struct{}, name string, fn Job) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				r.runOnce(name, fn)
			case _, ok := <-kick:
				if !ok {
					kick = nil
					continue
				}
				r.runOnce(name, fn)
			}
		}
	}()
}

func (r *Runner) runOnce(name string, fn Job) {
	start := time.Now()
	err := safeRun(r.ctx, name, fn)
	if err != nil {
		jobErrors.WithLabelValues(name).Inc()
		r.log.Warn("job failed", zap.String("job", name), zap.Error(err))
	}
	jobRuns.WithLabelValues(name).Inc()
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func safeRun(ctx context.Context, name string, fn Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in job %s: %v", name, rec)
			observability.CaptureErr(err)
		}
	}()
	return fn(ctx)
}
