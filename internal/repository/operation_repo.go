package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"virtualpos/internal/models"
)

// OperationRepository handles payment operation database operations.
type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Create persists a new payment operation.
func (r *OperationRepository) Create(op *models.PaymentOperation) error {
	return r.db.Create(op).Error
}

// FindByNumber returns the payment operation with the given operation number.
func (r *OperationRepository) FindByNumber(number string) (*models.PaymentOperation, error) {
	var op models.PaymentOperation
	if err := r.db.Where("operation_number = ?", number).First(&op).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &op, nil
}

// FindPending returns the pending operation for a sale code on a given
// point of sale, if one exists.
func (r *OperationRepository) FindPending(saleCode string, posID uint) (*models.PaymentOperation, error) {
	var op models.PaymentOperation
	err := r.db.
		Where("sale_code = ? AND point_of_sale_id = ? AND status = ?", saleCode, posID, models.StatusPending).
		Order("created_at DESC").
		First(&op).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &op, nil
}

// FindRefundable returns the operation for a sale code that still admits
// refunds: paid in full or already partially refunded.
func (r *OperationRepository) FindRefundable(saleCode string, posID uint) (*models.PaymentOperation, error) {
	var op models.PaymentOperation
	err := r.db.
		Where("sale_code = ? AND point_of_sale_id = ? AND status IN ?",
			saleCode, posID, []string{models.StatusCompleted, models.StatusPartiallyRefunded}).
		First(&op).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &op, nil
}

// NumberExists reports whether an operation number is already taken.
func (r *OperationRepository) NumberExists(number string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentOperation{}).
		Where("operation_number = ?", number).
		Count(&count).Error
	return count > 0, err
}

// Update updates a payment operation by ID.
func (r *OperationRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.PaymentOperation{}).Where("id = ?", id).Updates(updates).Error
}

// WithLock runs fn holding a FOR UPDATE lock on the operation row, then
// saves the (possibly mutated) operation if fn succeeds. Concurrent
// confirmations of the same operation serialize here.
func (r *OperationRepository) WithLock(ctx context.Context, number string, fn func(op *models.PaymentOperation) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op models.PaymentOperation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("operation_number = ?", number).
			First(&op).Error
		if err != nil {
			return translateNotFound(err)
		}
		if err := fn(&op); err != nil {
			return err
		}
		return tx.Save(&op).Error
	})
}

// ExpirePendingOlderThan marks pending operations older than the cutoff
// as failed and returns how many rows changed.
func (r *OperationRepository) ExpirePendingOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Model(&models.PaymentOperation{}).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Updates(map[string]interface{}{"status": models.StatusFailed})
	return res.RowsAffected, res.Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}
