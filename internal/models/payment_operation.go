package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentOperation maps to the `payment_operation` table. One row per
// attempted sale; the operation number is the correlation key quoted in
// every gateway exchange and must be unique across the whole system.
type PaymentOperation struct {
	ID               uint            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Amount           decimal.Decimal `gorm:"column:amount;type:decimal(12,2)" json:"amount"`
	Description      string          `gorm:"column:description;size:512" json:"description"`
	URLOk            string          `gorm:"column:url_ok;size:255" json:"url_ok"`
	URLNok           string          `gorm:"column:url_nok;size:255" json:"url_nok"`
	OperationNumber  string          `gorm:"column:operation_number;size:255;uniqueIndex" json:"operation_number"`
	ConfirmationCode string          `gorm:"column:confirmation_code;size:255" json:"confirmation_code"`
	ConfirmationData string          `gorm:"column:confirmation_data;type:text" json:"confirmation_data"`
	SaleCode         string          `gorm:"column:sale_code;size:255;index" json:"sale_code"`
	Status           string          `gorm:"column:status;size:64;index" json:"status"`
	ResponseCode     string          `gorm:"column:response_code;size:255" json:"response_code"`

	// Type and Environment snapshot the POS configuration at payment time,
	// so history survives reconfiguration of the point of sale.
	Type        string `gorm:"column:type;size:16" json:"type"`
	Environment string `gorm:"column:environment;size:16" json:"environment"`

	PointOfSaleID uint         `gorm:"column:point_of_sale_id;index" json:"point_of_sale_id"`
	PointOfSale   *PointOfSale `gorm:"foreignKey:PointOfSaleID" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (PaymentOperation) TableName() string {
	return "payment_operation"
}
