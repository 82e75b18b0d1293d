package gateway

import (
	"context"

	"virtualpos/internal/models"
)

// Gateway is implemented once per supported payment processor. The
// facade drives the call order; adapters only translate between the
// domain model and each bank's wire format.
type Gateway interface {
	// Type returns the gateway tag (models.Type*).
	Type() string

	// SetupPayment returns the operation number for op. When existing is
	// non-empty a pending operation is being resumed; local-numbering
	// gateways return it unchanged, remote-numbering gateways (PayPal
	// token, Bitpay invoice) always negotiate a fresh one.
	SetupPayment(ctx context.Context, op *models.PaymentOperation, existing string) (string, error)

	// PaymentFormData builds the customer-facing form for an operation
	// that already has its number. language is an ISO 639-1 code;
	// unknown values fall back to Spanish.
	PaymentFormData(op *models.PaymentOperation, language string) (*FormData, error)

	// VerifyConfirmation checks the signature (and authorization result)
	// of a parsed confirmation against the operation it claims to settle.
	VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool

	// Charge acknowledges a verified confirmation, performing whatever
	// remote settling the gateway requires, and returns the response the
	// gateway expects.
	Charge(ctx context.Context, op *models.PaymentOperation, conf *Confirmation) (*Ack, error)

	// ResponseNok acknowledges a rejected or unverifiable confirmation.
	// op may be nil when the notification could not be tied to an
	// operation.
	ResponseNok(op *models.PaymentOperation, conf *Confirmation) (*Ack, error)

	// Refund pushes a refund to the gateway and reports whether it was
	// accepted. Gateways without refund support return
	// models.ErrUnsupportedOperation.
	Refund(ctx context.Context, op *models.PaymentOperation, ref *models.RefundOperation) (bool, error)

	// RefundResponseOk / RefundResponseNok acknowledge refund
	// notifications.
	RefundResponseOk(op *models.PaymentOperation, conf *Confirmation) (*Ack, error)
	RefundResponseNok(op *models.PaymentOperation, conf *Confirmation) (*Ack, error)
}
