package gateway

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
)

// Paypal implements express checkout over the classic NVP API. The
// checkout token issued by PayPal doubles as the operation number.
type Paypal struct {
	creds       *models.PaypalCredentials
	environment string
	hc          *httpclient.Client
	logger      *zap.Logger
}

var paypalAPIURLs = map[string]string{
	models.EnvProduction: "https://api-3t.paypal.com/nvp",
	models.EnvTesting:    "https://api-3t.sandbox.paypal.com/nvp",
}

var paypalPaymentURLs = map[string]string{
	models.EnvProduction: "https://www.paypal.com/cgi-bin/webscr",
	models.EnvTesting:    "https://www.sandbox.paypal.com/cgi-bin/webscr",
}

const (
	paypalVersion       = "95"
	paypalCurrency      = "EUR"
	paypalPaymentAction = "Sale"
)

func NewPaypal(creds *models.PaypalCredentials, environment string, hc *httpclient.Client, logger *zap.Logger) *Paypal {
	return &Paypal{
		creds:       creds,
		environment: environment,
		hc:          hc,
		logger:      logger,
	}
}

func (g *Paypal) Type() string { return models.TypePaypal }

// SetupPayment requests an express checkout token. Resumed operations
// still negotiate a fresh token: PayPal tokens are single-use and the
// facade replaces the stored number with the returned one.
func (g *Paypal) SetupPayment(_ context.Context, op *models.PaymentOperation, _ string) (string, error) {
	amount := op.Amount.StringFixed(2)
	res, err := g.call(map[string]string{
		"METHOD":                         "SetExpressCheckout",
		"VERSION":                        paypalVersion,
		"USER":                           g.creds.APIUsername,
		"PWD":                            g.creds.APIPassword,
		"SIGNATURE":                      g.creds.APISignature,
		"PAYMENTREQUEST_0_AMT":           amount,
		"PAYMENTREQUEST_0_CURRENCYCODE":  paypalCurrency,
		"RETURNURL":                      g.creds.ReturnURL,
		"CANCELURL":                      op.URLNok,
		"PAYMENTREQUEST_0_PAYMENTACTION": paypalPaymentAction,
		"L_PAYMENTREQUEST_0_NAME0":       op.Description,
		"L_PAYMENTREQUEST_0_AMT0":        amount,
	})
	if err != nil {
		return "", err
	}
	return paypalToken(res)
}

func (g *Paypal) call(fields map[string]string) (url.Values, error) {
	body, err := g.hc.PostForm(paypalAPIURLs[g.environment], fields)
	if err != nil {
		return nil, err
	}
	res, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse paypal nvp answer: %w", models.ErrProtocolViolation)
	}
	if res.Get("ACK") == "Failure" {
		return nil, fmt.Errorf("paypal refused %s: %s: %w",
			fields["METHOD"], res.Get("L_LONGMESSAGE0"), models.ErrGatewayRejected)
	}
	return res, nil
}

func paypalToken(res url.Values) (string, error) {
	tokens := res["TOKEN"]
	if len(tokens) != 1 || tokens[0] == "" {
		return "", fmt.Errorf("paypal answer without a single TOKEN: %w", models.ErrProtocolViolation)
	}
	return tokens[0], nil
}

func (g *Paypal) PaymentFormData(op *models.PaymentOperation, _ string) (*FormData, error) {
	return &FormData{
		Action: paypalPaymentURLs[g.environment],
		Method: "GET",
		Fields: map[string]string{
			"cmd":   "_express-checkout",
			"token": op.OperationNumber,
		},
	}, nil
}

// parsePaypalConfirmation reads the express checkout return: PayPal
// sends the payer back by GET with the token and the payer id.
func parsePaypalConfirmation(n *Notification) (*Confirmation, error) {
	token := n.Query.Get("token")
	if token == "" {
		token = n.Form.Get("token")
	}
	payerID := n.Query.Get("PayerID")
	if payerID == "" {
		payerID = n.Form.Get("PayerID")
	}
	if token == "" || payerID == "" {
		return nil, fmt.Errorf("paypal return without token/PayerID: %w", models.ErrProtocolViolation)
	}
	return &Confirmation{
		OperationNumber: token,
		Code:            payerID,
		Raw:             map[string]string{"token": token, "PayerID": payerID},
	}, nil
}

// VerifyConfirmation: the token lookup already proved the return is
// ours; there is no signature to check on this channel.
func (g *Paypal) VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool {
	return conf.OperationNumber == op.OperationNumber && conf.Code != ""
}

// Charge executes DoExpressCheckoutPayment and redirects the payer to
// the shop's ok page.
func (g *Paypal) Charge(_ context.Context, op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	res, err := g.call(map[string]string{
		"METHOD":                         "DoExpressCheckoutPayment",
		"VERSION":                        paypalVersion,
		"USER":                           g.creds.APIUsername,
		"PWD":                            g.creds.APIPassword,
		"SIGNATURE":                      g.creds.APISignature,
		"TOKEN":                          op.OperationNumber,
		"PAYERID":                        conf.Code,
		"PAYMENTREQUEST_0_AMT":           op.Amount.StringFixed(2),
		"PAYMENTREQUEST_0_CURRENCYCODE":  paypalCurrency,
		"PAYMENTREQUEST_0_PAYMENTACTION": paypalPaymentAction,
	})
	if err != nil {
		return nil, err
	}
	if _, err := paypalToken(res); err != nil {
		return nil, err
	}
	return &Ack{RedirectURL: op.URLOk}, nil
}

func (g *Paypal) ResponseNok(op *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	if op != nil && op.URLNok != "" {
		return &Ack{RedirectURL: op.URLNok}, nil
	}
	return &Ack{ContentType: "text/plain", Body: ""}, nil
}

func (g *Paypal) Refund(_ context.Context, _ *models.PaymentOperation, _ *models.RefundOperation) (bool, error) {
	return false, fmt.Errorf("paypal refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Paypal) RefundResponseOk(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("paypal refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Paypal) RefundResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("paypal refunds: %w", models.ErrUnsupportedOperation)
}
