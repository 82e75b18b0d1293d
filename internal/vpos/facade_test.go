package vpos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"virtualpos/internal/gateway"
	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
	"virtualpos/internal/signature"
)

// In-memory stores. They copy rows on the way in and out so tests catch
// writes that bypass Update.

type fakeOps struct {
	byNumber map[string]*models.PaymentOperation
	nextID   uint
}

func newFakeOps() *fakeOps {
	return &fakeOps{byNumber: map[string]*models.PaymentOperation{}}
}

func (f *fakeOps) Create(op *models.PaymentOperation) error {
	f.nextID++
	op.ID = f.nextID
	cp := *op
	f.byNumber[op.OperationNumber] = &cp
	return nil
}

func (f *fakeOps) FindByNumber(number string) (*models.PaymentOperation, error) {
	op, ok := f.byNumber[number]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (f *fakeOps) FindPending(saleCode string, posID uint) (*models.PaymentOperation, error) {
	for _, op := range f.byNumber {
		if op.SaleCode == saleCode && op.PointOfSaleID == posID && op.Status == models.StatusPending {
			cp := *op
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeOps) FindRefundable(saleCode string, posID uint) (*models.PaymentOperation, error) {
	for _, op := range f.byNumber {
		if op.SaleCode == saleCode && op.PointOfSaleID == posID &&
			(op.Status == models.StatusCompleted || op.Status == models.StatusPartiallyRefunded) {
			cp := *op
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeOps) NumberExists(number string) (bool, error) {
	_, ok := f.byNumber[number]
	return ok, nil
}

func (f *fakeOps) Update(id uint, updates map[string]interface{}) error {
	for number, op := range f.byNumber {
		if op.ID != id {
			continue
		}
		for k, v := range updates {
			switch k {
			case "status":
				op.Status = v.(string)
			case "description":
				op.Description = v.(string)
			case "confirmation_code":
				op.ConfirmationCode = v.(string)
			case "confirmation_data":
				op.ConfirmationData = v.(string)
			case "response_code":
				op.ResponseCode = v.(string)
			case "operation_number":
				delete(f.byNumber, number)
				op.OperationNumber = v.(string)
				f.byNumber[op.OperationNumber] = op
			}
		}
		return nil
	}
	return models.ErrNotFound
}

func (f *fakeOps) WithLock(_ context.Context, number string, fn func(op *models.PaymentOperation) error) error {
	op, ok := f.byNumber[number]
	if !ok {
		return models.ErrNotFound
	}
	cp := *op
	if err := fn(&cp); err != nil {
		return err
	}
	*op = cp
	return nil
}

type fakeRefunds struct {
	items  []*models.RefundOperation
	nextID uint
}

func (f *fakeRefunds) Create(ref *models.RefundOperation) error {
	f.nextID++
	ref.ID = f.nextID
	cp := *ref
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakeRefunds) Update(id uint, updates map[string]interface{}) error {
	for _, ref := range f.items {
		if ref.ID != id {
			continue
		}
		if v, ok := updates["status"]; ok {
			ref.Status = v.(string)
		}
		return nil
	}
	return models.ErrNotFound
}

func (f *fakeRefunds) FindLatestByNumber(number string) (*models.RefundOperation, error) {
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].OperationNumber == number {
			cp := *f.items[i]
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRefunds) SumCompleted(paymentID uint) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, ref := range f.items {
		if ref.PaymentID == paymentID && ref.Status == models.StatusCompleted {
			sum = sum.Add(ref.Amount)
		}
	}
	return sum, nil
}

type fakePOS struct {
	byID map[uint]*models.PointOfSale
}

func (f *fakePOS) FindByID(id uint) (*models.PointOfSale, error) {
	pos, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return pos, nil
}

type mockTransport struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.fn(req)
}

func stubClient(body string) *httpclient.Client {
	return httpclient.New().WithTransport(&mockTransport{fn: func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}})
}

func cecaPOS() *models.PointOfSale {
	return &models.PointOfSale{
		ID:          1,
		Name:        "tpv principal",
		Type:        models.TypeCeca,
		Environment: models.EnvTesting,
		Ceca: &models.CecaCredentials{
			Merchant:      "123456789",
			AcquirerBIN:   "1234567890",
			Terminal:      "12345678",
			EncryptionKey: "12345678",
		},
	}
}

func redsysPOS(partial, total bool) *models.PointOfSale {
	return &models.PointOfSale{
		ID:                2,
		Name:              "tpv redsys",
		Type:              models.TypeRedsys,
		Environment:       models.EnvTesting,
		HasPartialRefunds: partial,
		HasTotalRefunds:   total,
		Redsys: &models.RedsysCredentials{
			MerchantCode:  "999008881",
			Terminal:      "001",
			EncryptionKey: "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIz",
			OperativeType: gateway.OperativeAuthorization,
		},
	}
}

func testDeps(pos *models.PointOfSale, hc *httpclient.Client) *Deps {
	return &Deps{
		Ops:     newFakeOps(),
		Refunds: &fakeRefunds{},
		POS:     &fakePOS{byID: map[uint]*models.PointOfSale{pos.ID: pos}},
		HTTP:    hc,
		Options: gateway.Options{NotificationBase: "https://pos.example"},
		Logger:  zap.NewNop(),
	}
}

func configureParams(saleCode string) ConfigureParams {
	return ConfigureParams{
		Amount:      decimal.RequireFromString("10.00"),
		Description: "Pedido 42",
		URLOk:       "https://shop.example/ok",
		URLNok:      "https://shop.example/nok",
		SaleCode:    saleCode,
		Language:    "es",
	}
}

func TestConfigurePaymentValidation(t *testing.T) {
	pos := cecaPOS()
	v, err := New(pos, testDeps(pos, nil))
	assert.NoError(t, err)

	var verr *models.ValidationError

	p := configureParams("sale-1")
	p.Amount = decimal.Zero
	assert.ErrorAs(t, v.ConfigurePayment(p), &verr)
	assert.Equal(t, "amount", verr.Field)

	p = configureParams("sale-1")
	p.URLNok = ""
	assert.ErrorAs(t, v.ConfigurePayment(p), &verr)
	assert.Equal(t, "url_nok", verr.Field)

	p = configureParams("")
	assert.ErrorAs(t, v.ConfigurePayment(p), &verr)
	assert.Equal(t, "sale_code", verr.Field)
}

func TestCallOrder(t *testing.T) {
	pos := cecaPOS()
	v, err := New(pos, testDeps(pos, nil))
	assert.NoError(t, err)

	_, err = v.SetupPayment(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = v.PaymentFormData()
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.NoError(t, v.ConfigurePayment(configureParams("sale-1")))
	_, err = v.PaymentFormData()
	assert.ErrorIs(t, err, ErrNotSetUp)
}

func TestSetupPayment(t *testing.T) {
	pos := cecaPOS()
	deps := testDeps(pos, nil)

	v, err := New(pos, deps)
	assert.NoError(t, err)
	assert.NoError(t, v.ConfigurePayment(configureParams("sale-1")))

	number, err := v.SetupPayment(context.Background())
	assert.NoError(t, err)
	assert.Len(t, number, 40)

	stored, err := deps.Ops.FindByNumber(number)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, models.TypeCeca, stored.Type)
	assert.Equal(t, models.EnvTesting, stored.Environment)

	t.Run("a second setup for the same sale resumes the operation", func(t *testing.T) {
		v2, err := New(pos, deps)
		assert.NoError(t, err)
		assert.NoError(t, v2.ConfigurePayment(configureParams("sale-1")))

		again, err := v2.SetupPayment(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, number, again)
		assert.Equal(t, number, v2.Operation().OperationNumber)
	})

	t.Run("form data is complete after setup", func(t *testing.T) {
		data, err := v.PaymentFormData()
		assert.NoError(t, err)
		assert.Equal(t, models.TypeCeca, data.Type)
		assert.Equal(t, number, data.Fields["Num_operacion"])
	})
}

// cecaNotification builds a correctly signed confirmation for number.
func cecaNotification(number string) *gateway.Notification {
	form := url.Values{}
	form.Set("Num_operacion", number)
	form.Set("Importe", "1000")
	form.Set("TipoMoneda", "978")
	form.Set("Exponente", "2")
	form.Set("Referencia", "REF001")
	form.Set("Firma", signature.CecaVerification("12345678", "123456789", "1234567890", "12345678",
		number, "1000", "978", "2", "REF001"))
	return &gateway.Notification{Method: "POST", Form: form}
}

func setupPayment(t *testing.T, pos *models.PointOfSale, deps *Deps, saleCode string) string {
	t.Helper()
	v, err := New(pos, deps)
	assert.NoError(t, err)
	assert.NoError(t, v.ConfigurePayment(configureParams(saleCode)))
	number, err := v.SetupPayment(context.Background())
	assert.NoError(t, err)
	return number
}

func TestReceiveConfirmationAndCharge(t *testing.T) {
	pos := cecaPOS()
	deps := testDeps(pos, nil)
	number := setupPayment(t, pos, deps, "sale-1")

	v, err := ReceiveConfirmation(cecaNotification(number), models.TypeCeca, deps)
	assert.NoError(t, err)
	assert.False(t, v.IsRefundConfirmation())

	t.Run("the raw confirmation is snapshot before verification", func(t *testing.T) {
		stored, err := deps.Ops.FindByNumber(number)
		assert.NoError(t, err)
		assert.Equal(t, "REF001", stored.ConfirmationCode)
		assert.Contains(t, stored.ConfirmationData, `"Referencia":"REF001"`)
	})

	assert.True(t, v.VerifyConfirmation())

	ack, err := v.Charge(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "$*$OKY$*$", ack.Body)

	stored, err := deps.Ops.FindByNumber(number)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	t.Run("a redelivery is refused", func(t *testing.T) {
		_, err := ReceiveConfirmation(cecaNotification(number), models.TypeCeca, deps)
		assert.ErrorIs(t, err, models.ErrAlreadyConfirmed)
	})
}

func TestReceiveConfirmationUnknownNumber(t *testing.T) {
	pos := cecaPOS()
	deps := testDeps(pos, nil)

	_, err := ReceiveConfirmation(cecaNotification("NOSUCHOPERATION"), models.TypeCeca, deps)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestChargeConcurrentRedelivery(t *testing.T) {
	pos := cecaPOS()
	deps := testDeps(pos, nil)
	number := setupPayment(t, pos, deps, "sale-1")

	v, err := ReceiveConfirmation(cecaNotification(number), models.TypeCeca, deps)
	assert.NoError(t, err)

	// Another delivery wins the row lock first.
	assert.NoError(t, deps.Ops.Update(v.Operation().ID, map[string]interface{}{"status": models.StatusCompleted}))

	_, err = v.Charge(context.Background())
	assert.ErrorIs(t, err, models.ErrAlreadyConfirmed)
}

func TestResponseNok(t *testing.T) {
	pos := cecaPOS()
	deps := testDeps(pos, nil)
	number := setupPayment(t, pos, deps, "sale-1")

	v, err := ReceiveConfirmation(cecaNotification(number), models.TypeCeca, deps)
	assert.NoError(t, err)

	ack, err := v.ResponseNok("confirmation verification failed")
	assert.NoError(t, err)
	assert.Equal(t, "", ack.Body)

	stored, err := deps.Ops.FindByNumber(number)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "Pedido 42. confirmation verification failed", stored.Description)
}

func TestStaticResponseNok(t *testing.T) {
	assert.Equal(t, "NOK", StaticResponseNok(models.TypeBitpay).Body)
	assert.Equal(t, "", StaticResponseNok(models.TypeCeca).Body)
}

// seedCompletedPayment stores a charged redsys sale ready to refund.
func seedCompletedPayment(t *testing.T, deps *Deps, pos *models.PointOfSale, saleCode string) *models.PaymentOperation {
	t.Helper()
	op := &models.PaymentOperation{
		Amount:          decimal.RequireFromString("10.00"),
		Description:     "Pedido 42",
		URLOk:           "https://shop.example/ok",
		URLNok:          "https://shop.example/nok",
		OperationNumber: "1234ABCDEFGH",
		SaleCode:        saleCode,
		Status:          models.StatusCompleted,
		Type:            pos.Type,
		Environment:     pos.Environment,
		PointOfSaleID:   pos.ID,
	}
	assert.NoError(t, deps.Ops.Create(op))
	return op
}

func TestRefundValidation(t *testing.T) {
	pos := redsysPOS(true, true)
	deps := testDeps(pos, nil)
	v, err := New(pos, deps)
	assert.NoError(t, err)

	var verr *models.ValidationError
	_, err = v.Refund(context.Background(), "sale-1", decimal.Zero, "devolución")
	assert.ErrorAs(t, err, &verr)

	_, err = v.Refund(context.Background(), "sale-1", decimal.RequireFromString("1.00"), "")
	assert.ErrorAs(t, err, &verr)
}

func TestRefundPolicies(t *testing.T) {
	t.Run("nothing refundable", func(t *testing.T) {
		pos := redsysPOS(true, true)
		deps := testDeps(pos, nil)
		v, _ := New(pos, deps)
		_, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("1.00"), "devolución")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("refunds disabled entirely", func(t *testing.T) {
		pos := redsysPOS(false, false)
		deps := testDeps(pos, nil)
		seedCompletedPayment(t, deps, pos, "sale-1")
		v, _ := New(pos, deps)
		_, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("1.00"), "devolución")
		assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
	})

	t.Run("refund above the payment", func(t *testing.T) {
		pos := redsysPOS(true, true)
		deps := testDeps(pos, nil)
		seedCompletedPayment(t, deps, pos, "sale-1")
		v, _ := New(pos, deps)
		_, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("10.01"), "devolución")
		assert.ErrorIs(t, err, models.ErrPolicyViolation)
	})

	t.Run("partial refund without the partial flag", func(t *testing.T) {
		pos := redsysPOS(false, true)
		deps := testDeps(pos, nil)
		seedCompletedPayment(t, deps, pos, "sale-1")
		v, _ := New(pos, deps)
		_, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("5.00"), "devolución")
		assert.ErrorIs(t, err, models.ErrPolicyViolation)
	})

	t.Run("total refund without the total flag", func(t *testing.T) {
		pos := redsysPOS(true, false)
		deps := testDeps(pos, nil)
		seedCompletedPayment(t, deps, pos, "sale-1")
		v, _ := New(pos, deps)
		_, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("10.00"), "devolución")
		assert.ErrorIs(t, err, models.ErrPolicyViolation)
	})
}

func TestRefundFlow(t *testing.T) {
	pos := redsysPOS(true, true)
	deps := testDeps(pos, stubClient("operacionAceptada"))
	op := seedCompletedPayment(t, deps, pos, "sale-1")

	v, err := New(pos, deps)
	assert.NoError(t, err)

	ok, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("4.00"), "devolución parcial")
	assert.NoError(t, err)
	assert.True(t, ok)

	stored, err := deps.Ops.FindByNumber(op.OperationNumber)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyRefunded, stored.Status)

	t.Run("the refund reuses the payment number", func(t *testing.T) {
		ref, err := deps.Refunds.FindLatestByNumber(op.OperationNumber)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, ref.Status)
		assert.Equal(t, op.ID, ref.PaymentID)
	})

	t.Run("refunding the rest completes the reversal", func(t *testing.T) {
		v2, _ := New(pos, deps)
		ok, err := v2.Refund(context.Background(), "sale-1", decimal.RequireFromString("6.00"), "resto")
		assert.NoError(t, err)
		assert.True(t, ok)

		stored, err := deps.Ops.FindByNumber(op.OperationNumber)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusCompletelyRefunded, stored.Status)
	})
}

func TestRefundRejectedByGateway(t *testing.T) {
	pos := redsysPOS(true, true)
	deps := testDeps(pos, stubClient("noSePuedeRealizarOperacion"))
	op := seedCompletedPayment(t, deps, pos, "sale-1")

	v, err := New(pos, deps)
	assert.NoError(t, err)

	ok, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("4.00"), "devolución")
	assert.NoError(t, err)
	assert.False(t, ok)

	ref, err := deps.Refunds.FindLatestByNumber(op.OperationNumber)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusFailed, ref.Status)

	stored, err := deps.Ops.FindByNumber(op.OperationNumber)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestRefundAggregateOverflow(t *testing.T) {
	pos := redsysPOS(true, true)
	deps := testDeps(pos, stubClient("operacionAceptada"))
	seedCompletedPayment(t, deps, pos, "sale-1")

	v, _ := New(pos, deps)
	ok, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("6.00"), "primera")
	assert.NoError(t, err)
	assert.True(t, ok)

	// The second refund is admissible on its own but the completed sum
	// would exceed the payment.
	v2, _ := New(pos, deps)
	_, err = v2.Refund(context.Background(), "sale-1", decimal.RequireFromString("6.00"), "segunda")
	assert.ErrorIs(t, err, models.ErrProtocolViolation)
}

func TestReceiveRefundConfirmation(t *testing.T) {
	pos := redsysPOS(true, true)
	deps := testDeps(pos, stubClient("operacionAceptada"))
	op := seedCompletedPayment(t, deps, pos, "sale-1")

	v, err := New(pos, deps)
	assert.NoError(t, err)
	ok, err := v.Refund(context.Background(), "sale-1", decimal.RequireFromString("10.00"), "devolución")
	assert.NoError(t, err)
	assert.True(t, ok)

	params := map[string]string{
		"Ds_Order":           op.OperationNumber,
		"Ds_Response":        "0900",
		"Ds_TransactionType": "3",
	}
	raw, err := json.Marshal(params)
	assert.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(raw)
	sig, err := signature.RedsysSignature(pos.Redsys.EncryptionKey, op.OperationNumber, []byte(encoded))
	assert.NoError(t, err)

	form := url.Values{}
	form.Set("Ds_MerchantParameters", encoded)
	form.Set("Ds_Signature", sig)

	rv, err := ReceiveConfirmation(&gateway.Notification{Method: "POST", Form: form}, models.TypeRedsys, deps)
	assert.NoError(t, err)
	assert.True(t, rv.IsRefundConfirmation())
	assert.True(t, rv.VerifyConfirmation())

	ack, err := rv.RefundResponseOk()
	assert.NoError(t, err)
	assert.Equal(t, "", ack.Body)
}
