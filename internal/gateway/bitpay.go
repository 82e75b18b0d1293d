package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
)

// Bitpay implements the Bitpay invoice API. The invoice id issued at
// setup time is the operation number, and confirmations arrive as JSON
// status webhooks.
type Bitpay struct {
	creds       *models.BitpayCredentials
	environment string
	prefix      string
	hc          *httpclient.Client
	opts        Options
	logger      *zap.Logger
}

var bitpayInvoiceURLs = map[string]string{
	models.EnvProduction: "https://bitpay.com/api/invoice",
	models.EnvTesting:    "https://test.bitpay.com/api/invoice",
}

var bitpayPaymentURLs = map[string]string{
	models.EnvProduction: "https://bitpay.com/invoice/",
	models.EnvTesting:    "https://test.bitpay.com/invoice/",
}

const bitpayCurrency = "EUR"

// Invoice statuses reported by Bitpay: new, paid, confirmed, complete,
// expired, invalid. Only paid releases the sale.
const bitpayStatusPaid = "paid"

func NewBitpay(creds *models.BitpayCredentials, environment, prefix string, hc *httpclient.Client, opts Options, logger *zap.Logger) *Bitpay {
	return &Bitpay{
		creds:       creds,
		environment: environment,
		prefix:      prefix,
		hc:          hc,
		opts:        opts,
		logger:      logger,
	}
}

func (g *Bitpay) Type() string { return models.TypeBitpay }

// SetupPayment creates the invoice. Resuming a pending operation still
// creates a fresh invoice; the stale one expires on Bitpay's side.
func (g *Bitpay) SetupPayment(_ context.Context, op *models.PaymentOperation, _ string) (string, error) {
	notificationURL := g.creds.NotificationURL
	if notificationURL == "" {
		notificationURL = g.opts.notificationURL(models.TypeBitpay)
	}
	posData, _ := json.Marshal(map[string]string{"operation_number_prefix": g.prefix})

	params := map[string]interface{}{
		"price":             op.Amount.InexactFloat64(),
		"currency":          bitpayCurrency,
		"redirectURL":       op.URLOk,
		"itemDesc":          op.Description,
		"notificationURL":   notificationURL,
		"posData":           string(posData),
		"fullNotifications": true,
	}

	auth := base64.StdEncoding.EncodeToString([]byte(g.creds.APIKey))
	resp, err := g.hc.Request().
		SetHeader("Authorization", "Basic "+auth).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post(bitpayInvoiceURLs[g.environment])
	if err != nil {
		return "", err
	}
	body := resp.Body()

	var res struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("parse bitpay invoice answer: %w", models.ErrProtocolViolation)
	}
	if res.Error != nil {
		return "", fmt.Errorf("bitpay refused the invoice: %s - %s: %w",
			res.Error.Message, res.Error.Type, models.ErrGatewayRejected)
	}
	if res.ID == "" {
		return "", fmt.Errorf("bitpay answer without invoice id: %w", models.ErrProtocolViolation)
	}
	return res.ID, nil
}

func (g *Bitpay) PaymentFormData(op *models.PaymentOperation, _ string) (*FormData, error) {
	return &FormData{
		Action: bitpayPaymentURLs[g.environment],
		Method: "GET",
		Fields: map[string]string{"id": op.OperationNumber},
	}, nil
}

func parseBitpayConfirmation(n *Notification) (*Confirmation, error) {
	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(n.Body, &payload); err != nil || payload.ID == "" {
		return nil, fmt.Errorf("bitpay webhook without invoice id: %w", models.ErrProtocolViolation)
	}
	return &Confirmation{
		OperationNumber: payload.ID,
		Code:            payload.Status,
		ResponseCode:    payload.Status,
		Raw:             map[string]string{"id": payload.ID, "status": payload.Status},
	}, nil
}

// VerifyConfirmation: the webhook carries no signature; the invoice id
// lookup plus the paid status is the whole check.
func (g *Bitpay) VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool {
	return conf.OperationNumber == op.OperationNumber && conf.ResponseCode == bitpayStatusPaid
}

func (g *Bitpay) Charge(_ context.Context, _ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return &Ack{ContentType: "text/plain", Body: "OK"}, nil
}

func (g *Bitpay) ResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return &Ack{ContentType: "text/plain", Body: "NOK"}, nil
}

func (g *Bitpay) Refund(_ context.Context, _ *models.PaymentOperation, _ *models.RefundOperation) (bool, error) {
	return false, fmt.Errorf("bitpay refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Bitpay) RefundResponseOk(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("bitpay refunds: %w", models.ErrUnsupportedOperation)
}

func (g *Bitpay) RefundResponseNok(_ *models.PaymentOperation, _ *Confirmation) (*Ack, error) {
	return nil, fmt.Errorf("bitpay refunds: %w", models.ErrUnsupportedOperation)
}
