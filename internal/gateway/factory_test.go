package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"virtualpos/internal/models"
)

func TestFactory(t *testing.T) {
	logger := zap.NewNop()

	cases := []struct {
		name string
		pos  *models.PointOfSale
		want string
	}{
		{"ceca", &models.PointOfSale{Type: models.TypeCeca, Ceca: &models.CecaCredentials{}}, models.TypeCeca},
		{"redsys", &models.PointOfSale{Type: models.TypeRedsys, Redsys: &models.RedsysCredentials{}}, models.TypeRedsys},
		{"paypal", &models.PointOfSale{Type: models.TypePaypal, Paypal: &models.PaypalCredentials{}}, models.TypePaypal},
		{"santanderelavon", &models.PointOfSale{Type: models.TypeSantanderElavon, SantanderElavon: &models.SantanderElavonCredentials{}}, models.TypeSantanderElavon},
		{"bitpay", &models.PointOfSale{Type: models.TypeBitpay, Bitpay: &models.BitpayCredentials{}}, models.TypeBitpay},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, err := Factory(tc.pos, nil, Options{}, logger)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, gw.Type())
		})
	}

	t.Run("missing credentials", func(t *testing.T) {
		_, err := Factory(&models.PointOfSale{ID: 7, Type: models.TypeRedsys}, nil, Options{}, logger)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Factory(&models.PointOfSale{Type: "sermepa"}, nil, Options{}, logger)
		assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
	})
}

func TestParseConfirmationUnknownType(t *testing.T) {
	_, err := ParseConfirmation("sermepa", &Notification{})
	assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
}

func TestStaticNok(t *testing.T) {
	assert.Equal(t, "NOK", StaticNok(models.TypeBitpay).Body)
	assert.Equal(t, "", StaticNok(models.TypeCeca).Body)
	assert.Equal(t, "", StaticNok("sermepa").Body)
}

func TestNotificationURL(t *testing.T) {
	opts := Options{NotificationBase: "https://pos.example/"}
	assert.Equal(t, "https://pos.example/payment/redsys/confirmation",
		opts.notificationURL(models.TypeRedsys))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "1000", minorUnits(decimal.RequireFromString("10.00")))
	assert.Equal(t, "1999", minorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, "050", minorUnits(decimal.RequireFromString("0.5")))
	assert.Equal(t, "000", minorUnits(decimal.Zero))
}
