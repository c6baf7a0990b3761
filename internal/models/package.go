package models

import (
	"strings"
	"time"
)

// zeroDecimalCurrencies have no minor unit: the amount sent to the gateway is the major amount.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Package is a purchasable product in the trusted server-side catalog.
type Package struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Price    int64  `gorm:"not null" json:"price"` // major units, e.g. 149 THB
	Currency string `gorm:"type:varchar(10);not null;default:'thb'" json:"currency"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

// MinorUnitFactor is the number of smallest units in one unit of currency.
func MinorUnitFactor(currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 1
	}
	return 100
}

// AmountMinor returns the price in the currency's smallest unit.
func (p Package) AmountMinor() int64 {
	return p.Price * MinorUnitFactor(p.Currency)
}
