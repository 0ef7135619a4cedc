package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ProductActive = "active"
	ProductSold   = "sold"
)

// Product - снимок объявления, нужный для покупки.
type Product struct {
	ID       uuid.UUID
	SellerID uuid.UUID
	Title    string
	Price    decimal.Decimal
	Status   string
}

// Purchasable - объявление можно купить.
func (p *Product) Purchasable() bool {
	return p.Status == ProductActive
}
