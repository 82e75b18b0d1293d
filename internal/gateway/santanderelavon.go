package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
	"virtualpos/internal/signature"
)

// SantanderElavon implements the Santander Elavon TPV: the "Redirect"
// protocol for the customer-facing form and the "Remote" XML protocol
// for settle/void once the confirmation arrives.
type SantanderElavon struct {
	creds       *models.SantanderElavonCredentials
	environment string
	prefix      string
	hc          *httpclient.Client
	opts        Options
	logger      *zap.Logger
}

var elavonRedirectURLs = map[string]string{
	models.EnvProduction: "https://hpp.santanderelavontpvvirtual.es/pay",
	models.EnvTesting:    "https://hpp.prueba.santanderelavontpvvirtual.es/pay",
}

var elavonRemoteURLs = map[string]string{
	models.EnvProduction: "https://remote.santanderelavontpvvirtual.es/remote",
	models.EnvTesting:    "https://remote.prueba.santanderelavontpvvirtual.es/remote",
}

const (
	elavonCurrency        = "EUR"
	elavonTimestampLayout = "20060102150405"
)

// redirectPage is served back to the gateway, which renders it in the
// customer's browser; the gateway itself never redirects, so the page
// does it from javascript.
const elavonRedirectPage = `
<html>
    <head>
        <title>%s</title>
        <script type="text/javascript">
            window.location.assign("%s");
        </script>
    </head>
    <body>
        <p><strong>%s</strong></p>
        <p>Pulse <a href="%s">este enlace</a> si su navegador no le redirige automáticamente</p>
    </body>
</html>
`

func NewSantanderElavon(creds *models.SantanderElavonCredentials, environment, prefix string, hc *httpclient.Client, opts Options, logger *zap.Logger) *SantanderElavon {
	return &SantanderElavon{
		creds:       creds,
		environment: environment,
		prefix:      prefix,
		hc:          hc,
		opts:        opts,
		logger:      logger,
	}
}

func (g *SantanderElavon) Type() string { return models.TypeSantanderElavon }

func (g *SantanderElavon) SetupPayment(_ context.Context, _ *models.PaymentOperation, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return alphaNumCode(g.prefix, 40), nil
}

func (g *SantanderElavon) PaymentFormData(op *models.PaymentOperation, _ string) (*FormData, error) {
	timestamp := time.Now().Format(elavonTimestampLayout)
	amount := minorUnits(op.Amount)
	hash := signature.DoubleSHA1(g.creds.EncryptionKey,
		timestamp, g.creds.MerchantID, op.OperationNumber, amount, elavonCurrency)

	return &FormData{
		Action: elavonRedirectURLs[g.environment],
		Method: "POST",
		Fields: map[string]string{
			"MERCHANT_ID":           g.creds.MerchantID,
			"ACCOUNT":               g.creds.Account,
			"ORDER_ID":              op.OperationNumber,
			"AMOUNT":                amount,
			"CURRENCY":              elavonCurrency,
			"TIMESTAMP":             timestamp,
			"SHA1HASH":              hash,
			"AUTO_SETTLE_FLAG":      "0",
			"MERCHANT_RESPONSE_URL": g.opts.notificationURL(models.TypeSantanderElavon),
		},
	}, nil
}

func parseSantanderElavonConfirmation(n *Notification) (*Confirmation, error) {
	orderID := n.Form.Get("ORDER_ID")
	if orderID == "" {
		return nil, fmt.Errorf("santander elavon confirmation without ORDER_ID: %w", models.ErrProtocolViolation)
	}
	return &Confirmation{
		OperationNumber: orderID,
		Code:            n.Form.Get("PASREF") + ":" + n.Form.Get("AUTHCODE"),
		ResponseCode:    n.Form.Get("RESULT"),
		Signature:       n.Form.Get("SHA1HASH"),
		Raw:             flatten(n.Form),
	}, nil
}

// VerifyConfirmation checks the double-SHA1 over the echoed fields and
// that the gateway authorized the payment (RESULT 00).
func (g *SantanderElavon) VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool {
	expected := signature.DoubleSHA1(g.creds.EncryptionKey,
		conf.Raw["TIMESTAMP"], g.creds.MerchantID, op.OperationNumber,
		conf.Raw["RESULT"], conf.Raw["MESSAGE"], conf.Raw["PASREF"], conf.Raw["AUTHCODE"])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(conf.Signature)) != 1 {
		return false
	}
	return conf.ResponseCode == "00"
}

var elavonResultRe = regexp.MustCompile(`(?is)<result>([^<]*)</result>`)

// Charge settles the authorized payment over the Remote protocol, then
// answers the gateway with the page that sends the customer to url_ok.
func (g *SantanderElavon) Charge(ctx context.Context, op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	result, err := g.remoteOperation(ctx, op, conf, "settle")
	if err != nil {
		return nil, err
	}
	if result != "00" {
		return nil, fmt.Errorf("settle denied with code %s: %w", result, models.ErrRemoteChargeFailure)
	}
	return &Ack{
		ContentType: "text/html",
		Body: fmt.Sprintf(elavonRedirectPage,
			"Operación realizada", op.URLOk, "Operación realizada con éxito", op.URLOk),
	}, nil
}

// ResponseNok voids the authorization and sends the customer to
// url_nok. A failing void is logged but does not change the answer:
// the operation is already marked failed locally.
func (g *SantanderElavon) ResponseNok(op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	if op == nil {
		return &Ack{ContentType: "text/plain", Body: ""}, nil
	}
	if conf != nil && strings.Contains(conf.Code, ":") {
		if _, err := g.remoteOperation(context.Background(), op, conf, "void"); err != nil {
			g.logger.Warn("santander elavon void failed",
				zap.String("order", op.OperationNumber), zap.Error(err))
		}
	}
	return &Ack{
		ContentType: "text/html",
		Body: fmt.Sprintf(elavonRedirectPage,
			"Operación rechazada", op.URLNok, "Operación cancelada", op.URLNok),
	}, nil
}

func (g *SantanderElavon) remoteOperation(_ context.Context, op *models.PaymentOperation, conf *Confirmation, kind string) (string, error) {
	pasref, authcode, ok := strings.Cut(conf.Code, ":")
	if !ok {
		return "", fmt.Errorf("confirmation code %q has no pasref:authcode: %w", conf.Code, models.ErrProtocolViolation)
	}

	timestamp := time.Now().Format(elavonTimestampLayout)
	// The settle/void digest covers three empty trailing fields.
	hash := signature.DoubleSHA1(g.creds.EncryptionKey,
		timestamp, g.creds.MerchantID, op.OperationNumber, "", "", "")

	xml := fmt.Sprintf(`<request timestamp="%s" type="%s"><merchantid>%s</merchantid><account>%s</account><orderid>%s</orderid><pasref>%s</pasref><authcode>%s</authcode><sha1hash>%s</sha1hash></request>`,
		timestamp, kind, g.creds.MerchantID, g.creds.Account, op.OperationNumber, pasref, authcode, hash)

	body, err := g.hc.PostXML(elavonRemoteURLs[g.environment], xml)
	if err != nil {
		return "", err
	}
	m := elavonResultRe.FindStringSubmatch(string(body))
	if len(m) < 2 {
		return "", fmt.Errorf("remote %s answer without <result>: %w", kind, models.ErrProtocolViolation)
	}
	return strings.TrimSpace(m[1]), nil
}

func (g *SantanderElavon) Refund(_ context.Context, _ *models.PaymentOperation, _ *models.RefundOperation) (bool, error) {
	return false, fmt.Errorf("santander elavon refunds: %w", models.ErrUnsupportedOperation)
}

func (g *SantanderElavon) RefundResponseOk(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("santander elavon refunds: %w", models.ErrUnsupportedOperation)
}

func (g *SantanderElavon) RefundResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("santander elavon refunds: %w", models.ErrUnsupportedOperation)
}
