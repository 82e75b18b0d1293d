package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
)

// Factory creates the Gateway matching the point of sale type. The
// credential record for that type must be loaded on pos.
func Factory(pos *models.PointOfSale, hc *httpclient.Client, opts Options, logger *zap.Logger) (Gateway, error) {
	switch pos.Type {
	case models.TypeCeca:
		if pos.Ceca == nil {
			return nil, fmt.Errorf("point of sale %d has no ceca credentials", pos.ID)
		}
		return NewCeca(pos.Ceca, pos.Environment, pos.OperationNumberPrefix, opts, logger), nil
	case models.TypeRedsys:
		if pos.Redsys == nil {
			return nil, fmt.Errorf("point of sale %d has no redsys credentials", pos.ID)
		}
		return NewRedsys(pos.Redsys, pos.Environment, pos.OperationNumberPrefix, hc, opts, logger), nil
	case models.TypePaypal:
		if pos.Paypal == nil {
			return nil, fmt.Errorf("point of sale %d has no paypal credentials", pos.ID)
		}
		return NewPaypal(pos.Paypal, pos.Environment, hc, logger), nil
	case models.TypeSantanderElavon:
		if pos.SantanderElavon == nil {
			return nil, fmt.Errorf("point of sale %d has no santander elavon credentials", pos.ID)
		}
		return NewSantanderElavon(pos.SantanderElavon, pos.Environment, pos.OperationNumberPrefix, hc, opts, logger), nil
	case models.TypeBitpay:
		if pos.Bitpay == nil {
			return nil, fmt.Errorf("point of sale %d has no bitpay credentials", pos.ID)
		}
		return NewBitpay(pos.Bitpay, pos.Environment, pos.OperationNumberPrefix, hc, opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s: %w", pos.Type, models.ErrUnsupportedOperation)
	}
}

// ParseConfirmation runs the stateless notification parser for a
// gateway type. Parsing needs no credentials; signature checks happen
// later, once the operation and its point of sale are known.
func ParseConfirmation(gatewayType string, n *Notification) (*Confirmation, error) {
	switch gatewayType {
	case models.TypeCeca:
		return parseCecaConfirmation(n)
	case models.TypeRedsys:
		return parseRedsysConfirmation(n)
	case models.TypePaypal:
		return parsePaypalConfirmation(n)
	case models.TypeSantanderElavon:
		return parseSantanderElavonConfirmation(n)
	case models.TypeBitpay:
		return parseBitpayConfirmation(n)
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s: %w", gatewayType, models.ErrUnsupportedOperation)
	}
}

// StaticNok is the negative acknowledgement for notifications that
// never reached an operation (unknown number, unparseable payload).
func StaticNok(gatewayType string) *Ack {
	switch gatewayType {
	case models.TypeBitpay:
		return &Ack{ContentType: "text/plain", Body: "NOK"}
	default:
		return &Ack{ContentType: "text/plain", Body: ""}
	}
}
