package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/signature"
)

// Ceca implements the CECA (Confederación Española de Cajas de Ahorros)
// redirect gateway.
type Ceca struct {
	creds        *models.CecaCredentials
	environment  string
	prefix       string
	chargeBudget time.Duration
	logger       *zap.Logger
}

var cecaURLs = map[string]string{
	models.EnvProduction: "https://pgw.ceca.es/cgi-bin/tpv",
	models.EnvTesting:    "http://tpv.ceca.es:8000/cgi-bin/tpv",
}

var cecaLanguages = map[string]string{
	"es": "1",
	"en": "6",
	"fr": "7",
	"de": "8",
	"pt": "9",
	"it": "10",
}

// Fixed protocol values.
const (
	cecaCipher        = "SHA1"
	cecaExponent      = "2"
	cecaCurrency      = "978"
	cecaPagoSoportado = "SSL"
	cecaChargeOkBody  = "$*$OKY$*$"
)

func NewCeca(creds *models.CecaCredentials, environment, prefix string, opts Options, logger *zap.Logger) *Ceca {
	return &Ceca{
		creds:        creds,
		environment:  environment,
		prefix:       prefix,
		chargeBudget: opts.cecaChargeBudget(),
		logger:       logger,
	}
}

func (g *Ceca) Type() string { return models.TypeCeca }

func (g *Ceca) SetupPayment(_ context.Context, _ *models.PaymentOperation, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return alphaNumCode(g.prefix, 40), nil
}

func (g *Ceca) PaymentFormData(op *models.PaymentOperation, language string) (*FormData, error) {
	idioma, ok := cecaLanguages[language]
	if !ok {
		idioma = cecaLanguages["es"]
	}
	importe := minorUnits(op.Amount)

	firma := signature.CecaSend(
		g.creds.EncryptionKey, g.creds.Merchant, g.creds.AcquirerBIN, g.creds.Terminal,
		op.OperationNumber, importe, cecaCurrency, cecaExponent, op.URLOk, op.URLNok,
	)

	return &FormData{
		Action: cecaURLs[g.environment],
		Method: "POST",
		Fields: map[string]string{
			"MerchantID":     g.creds.Merchant,
			"AcquirerBIN":    g.creds.AcquirerBIN,
			"TerminalID":     g.creds.Terminal,
			"URL_OK":         op.URLOk,
			"URL_NOK":        op.URLNok,
			"Firma":          firma,
			"Cifrado":        cecaCipher,
			"Num_operacion":  op.OperationNumber,
			"Importe":        importe,
			"TipoMoneda":     cecaCurrency,
			"Exponente":      cecaExponent,
			"Pago_soportado": cecaPagoSoportado,
			"Idioma":         idioma,
			"Descripcion":    op.Description,
		},
	}, nil
}

func parseCecaConfirmation(n *Notification) (*Confirmation, error) {
	number := n.Form.Get("Num_operacion")
	if number == "" {
		return nil, fmt.Errorf("ceca confirmation without Num_operacion: %w", models.ErrProtocolViolation)
	}
	return &Confirmation{
		OperationNumber: number,
		Code:            n.Form.Get("Referencia"),
		Signature:       n.Form.Get("Firma"),
		Raw:             flatten(n.Form),
	}, nil
}

// VerifyConfirmation recomputes the digest over the values CECA echoed
// back. The amount and currency come from the payload, not from the
// stored operation, so tampering breaks the signature rather than the
// comparison.
func (g *Ceca) VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool {
	expected := signature.CecaVerification(
		g.creds.EncryptionKey, g.creds.Merchant, g.creds.AcquirerBIN, g.creds.Terminal,
		op.OperationNumber, conf.Raw["Importe"], conf.Raw["TipoMoneda"], conf.Raw["Exponente"],
		conf.Raw["Referencia"],
	)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(conf.Signature)) == 1
}

// Charge acknowledges a CECA confirmation. CECA voids the sale unless
// the acknowledgement body arrives within its thirty-second window, so
// a late charge is refused here instead of racing the gateway.
func (g *Ceca) Charge(_ context.Context, op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	if !conf.ReceivedAt.IsZero() {
		if elapsed := time.Since(conf.ReceivedAt); elapsed > g.chargeBudget {
			return nil, fmt.Errorf("confirmation of %s received %s ago: %w",
				op.OperationNumber, elapsed.Round(time.Millisecond), models.ErrTimeBudgetExceeded)
		}
	}
	return &Ack{ContentType: "text/plain", Body: cecaChargeOkBody}, nil
}

func (g *Ceca) ResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return &Ack{ContentType: "text/plain", Body: ""}, nil
}

func (g *Ceca) Refund(_ context.Context, _ *models.PaymentOperation, _ *models.RefundOperation) (bool, error) {
	return false, fmt.Errorf("ceca refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Ceca) RefundResponseOk(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("ceca refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Ceca) RefundResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("ceca refunds: %w", models.ErrUnsupportedOperation)
}
