package models

import "time"

// Entitlement records that a user was granted a package by a completed order.
// One row per order; the unique index on OrderID makes a second grant fail.
type Entitlement struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserUID     string    `gorm:"type:varchar(128);index;not null" json:"user_uid"`
	PackageName string    `gorm:"type:varchar(100);not null" json:"package_name"`
	GrantedAt   time.Time `json:"granted_at"`
}
