// Package scheduler запускает периодические задачи хранилища по расписанию.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Releaser описывает обход блокировок с невыплаченной суточной частью.
type Releaser interface {
	ReleaseDueLocks(ctx context.Context, logger *zap.Logger)
}

// Scheduler управляет cron-задачами сервиса.
type Scheduler struct {
	cron     *cron.Cron
	releaser Releaser
	logger   *zap.Logger
	ctx      context.Context
}

// NewScheduler создаёт планировщик поверх указанного контекста.
func NewScheduler(ctx context.Context, releaser Releaser, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		releaser: releaser,
		logger:   logger,
		ctx:      ctx,
	}
}

// Register регистрирует ежедневный обход выплат по указанному расписанию.
func (s *Scheduler) Register(releaseCron string) error {
	if _, err := s.cron.AddFunc(releaseCron, s.releaseTask); err != nil {
		return fmt.Errorf("register release task: %w", err)
	}
	return nil
}

func (s *Scheduler) releaseTask() {
	s.logger.Info("daily release sweep started")
	s.releaser.ReleaseDueLocks(s.ctx, s.logger)
	s.logger.Info("daily release sweep finished")
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop останавливает планировщик, дожидаясь завершения запущенных задач.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
