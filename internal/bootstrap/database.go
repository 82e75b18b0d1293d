package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"virtualpos/internal/models"
)

// Migrate ensures the payment schema exists.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.PointOfSale{},
		&models.CecaCredentials{},
		&models.RedsysCredentials{},
		&models.PaypalCredentials{},
		&models.SantanderElavonCredentials{},
		&models.BitpayCredentials{},
		&models.PaymentOperation{},
		&models.RefundOperation{},
	}
}
