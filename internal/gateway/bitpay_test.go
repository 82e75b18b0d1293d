package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
)

func newTestBitpay(notificationURL string, hc *httpclient.Client) *Bitpay {
	creds := &models.BitpayCredentials{
		APIKey:          "apikey123",
		NotificationURL: notificationURL,
	}
	opts := Options{NotificationBase: "https://pos.example"}
	return NewBitpay(creds, models.EnvTesting, "TIENDA", hc, opts, zap.NewNop())
}

func bitpayOperation() *models.PaymentOperation {
	return &models.PaymentOperation{
		ID:              5,
		Amount:          decimal.RequireFromString("10.00"),
		Description:     "Pedido 42",
		URLOk:           "https://shop.example/ok",
		URLNok:          "https://shop.example/nok",
		OperationNumber: "8xY2aF3k1",
	}
}

func TestBitpaySetupPayment(t *testing.T) {
	t.Run("creates the invoice and returns its id", func(t *testing.T) {
		g := newTestBitpay("", stubClient(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://test.bitpay.com/api/invoice", req.URL.String())
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte("apikey123"))
			assert.Equal(t, want, req.Header.Get("Authorization"))

			raw, err := io.ReadAll(req.Body)
			assert.NoError(t, err)
			var params map[string]interface{}
			assert.NoError(t, json.Unmarshal(raw, &params))
			assert.Equal(t, 10.0, params["price"])
			assert.Equal(t, "EUR", params["currency"])
			assert.Equal(t, "https://shop.example/ok", params["redirectURL"])
			assert.Equal(t, "https://pos.example/payment/bitpay/confirmation", params["notificationURL"])
			assert.Equal(t, `{"operation_number_prefix":"TIENDA"}`, params["posData"])
			assert.Equal(t, true, params["fullNotifications"])

			return stubResponse(200, `{"id":"8xY2aF3k1","url":"https://test.bitpay.com/invoice/8xY2aF3k1"}`), nil
		}))
		id, err := g.SetupPayment(context.Background(), bitpayOperation(), "")
		assert.NoError(t, err)
		assert.Equal(t, "8xY2aF3k1", id)
	})

	t.Run("a configured notification url wins over the default", func(t *testing.T) {
		g := newTestBitpay("https://other.example/hook", stubClient(func(req *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(req.Body)
			var params map[string]interface{}
			assert.NoError(t, json.Unmarshal(raw, &params))
			assert.Equal(t, "https://other.example/hook", params["notificationURL"])
			return stubResponse(200, `{"id":"8xY2aF3k1"}`), nil
		}))
		_, err := g.SetupPayment(context.Background(), bitpayOperation(), "")
		assert.NoError(t, err)
	})

	t.Run("an error answer is a gateway rejection", func(t *testing.T) {
		g := newTestBitpay("", stubClient(func(*http.Request) (*http.Response, error) {
			return stubResponse(200, `{"error":{"message":"invalid api key","type":"unauthorized"}}`), nil
		}))
		_, err := g.SetupPayment(context.Background(), bitpayOperation(), "")
		assert.ErrorIs(t, err, models.ErrGatewayRejected)
	})

	t.Run("an answer without an id is a protocol violation", func(t *testing.T) {
		g := newTestBitpay("", stubClient(func(*http.Request) (*http.Response, error) {
			return stubResponse(200, `{}`), nil
		}))
		_, err := g.SetupPayment(context.Background(), bitpayOperation(), "")
		assert.ErrorIs(t, err, models.ErrProtocolViolation)
	})
}

func TestBitpayPaymentFormData(t *testing.T) {
	g := newTestBitpay("", nil)
	data, err := g.PaymentFormData(bitpayOperation(), "es")
	assert.NoError(t, err)
	assert.Equal(t, "https://test.bitpay.com/invoice/", data.Action)
	assert.Equal(t, "GET", data.Method)
	assert.Equal(t, map[string]string{"id": "8xY2aF3k1"}, data.Fields)
}

func TestParseBitpayConfirmation(t *testing.T) {
	t.Run("reads the status webhook", func(t *testing.T) {
		conf, err := parseBitpayConfirmation(&Notification{Body: []byte(`{"id":"8xY2aF3k1","status":"paid"}`)})
		assert.NoError(t, err)
		assert.Equal(t, "8xY2aF3k1", conf.OperationNumber)
		assert.Equal(t, "paid", conf.ResponseCode)
	})

	t.Run("rejects bodies without an invoice id", func(t *testing.T) {
		_, err := parseBitpayConfirmation(&Notification{Body: []byte(`{"status":"paid"}`)})
		assert.ErrorIs(t, err, models.ErrProtocolViolation)

		_, err = parseBitpayConfirmation(&Notification{Body: []byte("not json")})
		assert.ErrorIs(t, err, models.ErrProtocolViolation)
	})
}

func TestBitpayVerifyConfirmation(t *testing.T) {
	g := newTestBitpay("", nil)
	op := bitpayOperation()

	assert.True(t, g.VerifyConfirmation(op, &Confirmation{OperationNumber: "8xY2aF3k1", ResponseCode: "paid"}))
	assert.False(t, g.VerifyConfirmation(op, &Confirmation{OperationNumber: "8xY2aF3k1", ResponseCode: "expired"}))
	assert.False(t, g.VerifyConfirmation(op, &Confirmation{OperationNumber: "other", ResponseCode: "paid"}))
}

func TestBitpayAcks(t *testing.T) {
	g := newTestBitpay("", nil)

	ack, err := g.Charge(context.Background(), bitpayOperation(), &Confirmation{})
	assert.NoError(t, err)
	assert.Equal(t, "OK", ack.Body)

	ack, err = g.ResponseNok(nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "NOK", ack.Body)
}
