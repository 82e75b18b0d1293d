package repository

import (
	"gorm.io/gorm"

	"virtualpos/internal/models"
)

// PointOfSaleRepository handles point of sale database operations.
type PointOfSaleRepository struct {
	db *gorm.DB
}

func NewPointOfSaleRepository(db *gorm.DB) *PointOfSaleRepository {
	return &PointOfSaleRepository{db: db}
}

// FindByID returns a non-erased point of sale with its credential
// records preloaded.
func (r *PointOfSaleRepository) FindByID(id uint) (*models.PointOfSale, error) {
	var pos models.PointOfSale
	err := r.withCredentials().
		Where("id = ? AND is_erased = ?", id, false).
		First(&pos).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &pos, nil
}

// FindAll returns every non-erased point of sale.
func (r *PointOfSaleRepository) FindAll() ([]models.PointOfSale, error) {
	var all []models.PointOfSale
	err := r.withCredentials().
		Where("is_erased = ?", false).
		Order("name").
		Find(&all).Error
	return all, err
}

// Create persists a new point of sale together with its credentials.
func (r *PointOfSaleRepository) Create(pos *models.PointOfSale) error {
	return r.db.Create(pos).Error
}

// Erase soft-deletes a point of sale. Operation history stays behind.
func (r *PointOfSaleRepository) Erase(id uint) error {
	return r.db.Model(&models.PointOfSale{}).Where("id = ?", id).
		Update("is_erased", true).Error
}

func (r *PointOfSaleRepository) withCredentials() *gorm.DB {
	return r.db.
		Preload("Ceca").
		Preload("Redsys").
		Preload("Paypal").
		Preload("SantanderElavon").
		Preload("Bitpay")
}
