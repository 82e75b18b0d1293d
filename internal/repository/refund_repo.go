package repository

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"virtualpos/internal/models"
)

// RefundRepository handles refund operation database operations.
type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create persists a new refund operation.
func (r *RefundRepository) Create(ref *models.RefundOperation) error {
	return r.db.Create(ref).Error
}

// Update updates a refund operation by ID.
func (r *RefundRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.RefundOperation{}).Where("id = ?", id).Updates(updates).Error
}

// FindLatestByNumber returns the most recent refund that reuses the
// given payment operation number. Gateways quote the parent number in
// refund notifications.
func (r *RefundRepository) FindLatestByNumber(number string) (*models.RefundOperation, error) {
	var ref models.RefundOperation
	err := r.db.
		Where("operation_number = ?", number).
		Order("created_at DESC").
		First(&ref).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &ref, nil
}

// SumCompleted returns the total amount of completed refunds against a
// payment.
func (r *RefundRepository) SumCompleted(paymentID uint) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.Model(&models.RefundOperation{}).
		Where("payment_id = ? AND status = ?", paymentID, models.StatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
