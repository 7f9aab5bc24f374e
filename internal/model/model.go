// Package model содержит доменные сущности сервиса flexvault.
package model

import "time"

const (
	// SecondsPerDay — длительность календарного дня в секундах.
	SecondsPerDay = 86400
	// RedemptionWindowDays — длительность окна погашения после окончания блокировки.
	RedemptionWindowDays = 14
)

// User представляет зарегистрированного пользователя хранилища.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// FeedKind описывает тип значения, запрашиваемого у ценового фида.
type FeedKind string

const (
	FeedKindPrice FeedKind = "price"
	FeedKindAPY   FeedKind = "apy"
)

// UserDeposit накапливает внесённый пользователем залог и его оценённую стоимость.
type UserDeposit struct {
	UserID       int64
	RawAmount    int64
	ValuedAmount int64
}

// LockRecord описывает запись блокировки синтетических токенов пользователя.
type LockRecord struct {
	UserID          int64
	Amount          int64
	LockPeriodDays  int64
	DailyRelease    int64
	StartTime       int64
	LastReleaseTime int64
}

// LockEndTime возвращает момент окончания периода блокировки в unix-секундах.
func (l *LockRecord) LockEndTime() int64 {
	return l.StartTime + l.LockPeriodDays*SecondsPerDay
}

// RedemptionDeadline возвращает момент окончания окна погашения.
func (l *LockRecord) RedemptionDeadline() int64 {
	return l.LockEndTime() + RedemptionWindowDays*SecondsPerDay
}

// LockStatus содержит сводное состояние блокировки пользователя.
type LockStatus struct {
	IsLocked           bool  `json:"is_locked"`
	RemainingLockTime  int64 `json:"remaining_lock_time"`
	RedeemableAmount   int64 `json:"redeemable_amount"`
	RedemptionDeadline int64 `json:"redemption_deadline"`
}

// RedemptionRequest описывает заявку пользователя на погашение.
type RedemptionRequest struct {
	ID          int64
	UserID      int64
	Amount      int64
	RequestTime int64
	IsProcessed bool
}

// HedgingRecord описывает выполненную операцию хеджирования.
type HedgingRecord struct {
	UserID    int64
	Amount    int64
	Timestamp int64
}

// SystemState содержит глобальное состояние системы: администратора и флаг паузы.
type SystemState struct {
	AdminUserID int64
	IsPaused    bool
}
