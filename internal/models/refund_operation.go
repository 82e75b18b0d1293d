package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundOperation maps to the `refund_operation` table. A refund reuses
// the operation number of the payment it reverses, which is what the
// gateways quote in refund notifications.
type RefundOperation struct {
	ID              uint            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(12,2)" json:"amount"`
	Description     string          `gorm:"column:description;size:512" json:"description"`
	OperationNumber string          `gorm:"column:operation_number;size:255;index" json:"operation_number"`
	Status          string          `gorm:"column:status;size:64;index" json:"status"`

	PaymentID uint              `gorm:"column:payment_id;index" json:"payment_id"`
	Payment   *PaymentOperation `gorm:"foreignKey:PaymentID" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (RefundOperation) TableName() string {
	return "refund_operation"
}
