// Package event описывает уведомления о завершённых операциях хранилища.
// Каждая мутирующая операция публикует ровно одно событие для внешнего
// аудита и индексации.
package event

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event — общий контракт уведомления.
type Event interface {
	// EventType возвращает тип события.
	EventType() string
	// Fields возвращает структурированные поля события для публикации.
	Fields() []zap.Field
}

// Publisher публикует события во внешнюю систему аудита.
type Publisher interface {
	Publish(e Event)
}

// Deposited публикуется после успешного депозита залога.
type Deposited struct {
	ID           uuid.UUID
	UserID       int64
	Asset        string
	Amount       int64
	ValuedAmount int64
}

func (d Deposited) EventType() string { return "vault.deposited" }

func (d Deposited) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", d.ID.String()),
		zap.Int64("user_id", d.UserID),
		zap.String("asset", d.Asset),
		zap.Int64("amount", d.Amount),
		zap.Int64("valued_amount", d.ValuedAmount),
	}
}

// MintedAndDistributed публикуется после эмиссии и распределения синтетических токенов.
type MintedAndDistributed struct {
	ID         uuid.UUID
	UserID     int64
	Total      int64
	Locked     int64
	UserAmount int64
}

func (m MintedAndDistributed) EventType() string { return "vault.minted" }

func (m MintedAndDistributed) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", m.ID.String()),
		zap.Int64("user_id", m.UserID),
		zap.Int64("total", m.Total),
		zap.Int64("locked", m.Locked),
		zap.Int64("user_amount", m.UserAmount),
	}
}

// Locked публикуется после создания или расширения блокировки.
type Locked struct {
	ID             uuid.UUID
	UserID         int64
	Amount         int64
	LockPeriodDays int64
	DailyRelease   int64
}

func (l Locked) EventType() string { return "vesting.locked" }

func (l Locked) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", l.ID.String()),
		zap.Int64("user_id", l.UserID),
		zap.Int64("amount", l.Amount),
		zap.Int64("lock_period_days", l.LockPeriodDays),
		zap.Int64("daily_release", l.DailyRelease),
	}
}

// Released публикуется после суточной выплаты из блокировки.
type Released struct {
	ID        uuid.UUID
	UserID    int64
	Amount    int64
	Remaining int64
}

func (r Released) EventType() string { return "vesting.released" }

func (r Released) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", r.ID.String()),
		zap.Int64("user_id", r.UserID),
		zap.Int64("amount", r.Amount),
		zap.Int64("remaining", r.Remaining),
	}
}

// RedemptionInitiated публикуется после создания заявки на погашение.
type RedemptionInitiated struct {
	ID          uuid.UUID
	UserID      int64
	Amount      int64
	RequestTime int64
}

func (r RedemptionInitiated) EventType() string { return "redemption.initiated" }

func (r RedemptionInitiated) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", r.ID.String()),
		zap.Int64("user_id", r.UserID),
		zap.Int64("amount", r.Amount),
		zap.Int64("request_time", r.RequestTime),
	}
}

// RedemptionExecuted публикуется после исполнения заявки на погашение.
type RedemptionExecuted struct {
	ID     uuid.UUID
	UserID int64
	Amount int64
	Payout int64
}

func (r RedemptionExecuted) EventType() string { return "redemption.executed" }

func (r RedemptionExecuted) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", r.ID.String()),
		zap.Int64("user_id", r.UserID),
		zap.Int64("amount", r.Amount),
		zap.Int64("payout", r.Payout),
	}
}

// HedgingCompleted публикуется после завершения операции хеджирования.
type HedgingCompleted struct {
	ID        uuid.UUID
	UserID    int64
	Amount    int64
	Timestamp int64
}

func (h HedgingCompleted) EventType() string { return "hedging.completed" }

func (h HedgingCompleted) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", h.ID.String()),
		zap.Int64("user_id", h.UserID),
		zap.Int64("amount", h.Amount),
		zap.Int64("timestamp", h.Timestamp),
	}
}

// PauseToggled публикуется при остановке или возобновлении системы.
type PauseToggled struct {
	ID       uuid.UUID
	AdminID  int64
	IsPaused bool
}

func (p PauseToggled) EventType() string { return "system.pause_toggled" }

func (p PauseToggled) Fields() []zap.Field {
	return []zap.Field{
		zap.String("event_id", p.ID.String()),
		zap.Int64("admin_id", p.AdminID),
		zap.Bool("is_paused", p.IsPaused),
	}
}

// LogPublisher публикует события в структурированный журнал.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт издателя событий поверх журнала.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish записывает событие в журнал со всеми его полями.
func (p *LogPublisher) Publish(e Event) {
	p.logger.Info(e.EventType(), e.Fields()...)
}
