package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier - уровень подписки пользователя.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Account - денежная часть профиля пользователя. Балансы меняет только расчёт по заказам.
type Account struct {
	UserID          uuid.UUID       `json:"user_id"`
	Tier            Tier            `json:"tier"`
	Balance         decimal.Decimal `json:"balance"`
	CashbackBalance decimal.Decimal `json:"cashback_balance"`
}
