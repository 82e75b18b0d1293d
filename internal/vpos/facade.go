// Package vpos is the payment facade: it owns the operation state
// machine and delegates every wire exchange to the gateway adapter of
// the bound point of sale.
package vpos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"virtualpos/internal/gateway"
	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
)

// Call-order errors. The other failure modes live in models.
var (
	ErrNotConfigured  = errors.New("payment not configured")
	ErrNotSetUp       = errors.New("payment has no operation number")
	ErrNoConfirmation = errors.New("no confirmation bound")
)

// setupAttempts bounds the mint-and-check loop for operation numbers.
const setupAttempts = 10

// OperationStore is what the facade needs from the payment operation
// repository.
type OperationStore interface {
	Create(op *models.PaymentOperation) error
	FindByNumber(number string) (*models.PaymentOperation, error)
	FindPending(saleCode string, posID uint) (*models.PaymentOperation, error)
	FindRefundable(saleCode string, posID uint) (*models.PaymentOperation, error)
	NumberExists(number string) (bool, error)
	Update(id uint, updates map[string]interface{}) error
	WithLock(ctx context.Context, number string, fn func(op *models.PaymentOperation) error) error
}

// RefundStore is what the facade needs from the refund repository.
type RefundStore interface {
	Create(ref *models.RefundOperation) error
	Update(id uint, updates map[string]interface{}) error
	FindLatestByNumber(number string) (*models.RefundOperation, error)
	SumCompleted(paymentID uint) (decimal.Decimal, error)
}

// PointOfSaleStore resolves operation rows back to their POS.
type PointOfSaleStore interface {
	FindByID(id uint) (*models.PointOfSale, error)
}

// Deps bundles everything a facade (or the static entry points) needs.
type Deps struct {
	Ops     OperationStore
	Refunds RefundStore
	POS     PointOfSaleStore
	HTTP    *httpclient.Client
	Options gateway.Options
	Logger  *zap.Logger
}

// ConfigureParams are the shop-side inputs of a payment.
type ConfigureParams struct {
	Amount      decimal.Decimal
	Description string
	URLOk       string
	URLNok      string
	SaleCode    string
	Language    string
}

// VirtualPOS drives one payment (or refund) through a point of sale.
// It is not safe for concurrent use; build one per request.
type VirtualPOS struct {
	pos  *models.PointOfSale
	gw   gateway.Gateway
	deps *Deps

	op       *models.PaymentOperation
	refund   *models.RefundOperation
	conf     *gateway.Confirmation
	language string
}

// New binds a facade to a point of sale.
func New(pos *models.PointOfSale, deps *Deps) (*VirtualPOS, error) {
	gw, err := gateway.Factory(pos, deps.HTTP, deps.Options, deps.Logger)
	if err != nil {
		return nil, err
	}
	return &VirtualPOS{pos: pos, gw: gw, deps: deps}, nil
}

// PointOfSale returns the bound POS.
func (v *VirtualPOS) PointOfSale() *models.PointOfSale { return v.pos }

// Operation returns the in-flight payment operation, if any.
func (v *VirtualPOS) Operation() *models.PaymentOperation { return v.op }

// ConfigurePayment validates the inputs and stages a pending operation
// in memory. Nothing is persisted until SetupPayment assigns a number.
func (v *VirtualPOS) ConfigurePayment(p ConfigureParams) error {
	if !p.Amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	for field, value := range map[string]string{
		"description": p.Description,
		"url_ok":      p.URLOk,
		"url_nok":     p.URLNok,
		"sale_code":   p.SaleCode,
	} {
		if value == "" {
			return &models.ValidationError{Field: field, Reason: "must not be empty"}
		}
	}

	v.language = p.Language
	v.op = &models.PaymentOperation{
		Amount:        p.Amount,
		Description:   p.Description,
		URLOk:         p.URLOk,
		URLNok:        p.URLNok,
		SaleCode:      p.SaleCode,
		Status:        models.StatusPending,
		Type:          v.pos.Type,
		Environment:   v.pos.Environment,
		PointOfSaleID: v.pos.ID,
	}
	return nil
}

// SetupPayment assigns the operation number. Re-running it for a sale
// code with a pending operation resumes that operation instead of
// opening a second one.
func (v *VirtualPOS) SetupPayment(ctx context.Context) (string, error) {
	if v.op == nil {
		return "", ErrNotConfigured
	}

	existing, err := v.deps.Ops.FindPending(v.op.SaleCode, v.pos.ID)
	switch {
	case err == nil:
		return v.resumePayment(ctx, existing)
	case errors.Is(err, models.ErrNotFound):
	default:
		return "", err
	}

	for i := 0; i < setupAttempts; i++ {
		candidate, err := v.gw.SetupPayment(ctx, v.op, "")
		if err != nil {
			return "", err
		}
		taken, err := v.deps.Ops.NumberExists(candidate)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		v.op.OperationNumber = candidate
		if err := v.deps.Ops.Create(v.op); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("could not mint a unique operation number after %d attempts", setupAttempts)
}

// resumePayment re-runs setup against an existing pending operation.
// Gateways with remote numbering may hand back a fresh number; the row
// is updated so the next confirmation still correlates.
func (v *VirtualPOS) resumePayment(ctx context.Context, existing *models.PaymentOperation) (string, error) {
	number, err := v.gw.SetupPayment(ctx, existing, existing.OperationNumber)
	if err != nil {
		return "", err
	}
	if number != existing.OperationNumber {
		if err := v.deps.Ops.Update(existing.ID, map[string]interface{}{"operation_number": number}); err != nil {
			return "", err
		}
		existing.OperationNumber = number
	}
	v.op = existing
	return number, nil
}

// PaymentFormData builds the customer-facing form and tags it with the
// gateway type so the shop can render gateway-specific markup.
func (v *VirtualPOS) PaymentFormData() (*gateway.FormData, error) {
	if v.op == nil {
		return nil, ErrNotConfigured
	}
	if v.op.OperationNumber == "" {
		return nil, ErrNotSetUp
	}
	data, err := v.gw.PaymentFormData(v.op, v.language)
	if err != nil {
		return nil, err
	}
	data.Type = v.pos.Type
	return data, nil
}

// ReceiveConfirmation is the static entry point for gateway
// notifications: it parses the payload, locates the operation it
// settles and returns a facade bound to that operation's point of sale.
func ReceiveConfirmation(n *gateway.Notification, gatewayType string, deps *Deps) (*VirtualPOS, error) {
	conf, err := gateway.ParseConfirmation(gatewayType, n)
	if err != nil {
		return nil, err
	}
	conf.ReceivedAt = time.Now()

	op, err := deps.Ops.FindByNumber(conf.OperationNumber)
	if err != nil {
		return nil, err
	}

	var refund *models.RefundOperation
	if conf.IsRefund {
		refund, err = deps.Refunds.FindLatestByNumber(conf.OperationNumber)
		if err != nil {
			return nil, err
		}
	} else if op.Status != models.StatusPending {
		return nil, fmt.Errorf("operation %s is %s: %w", op.OperationNumber, op.Status, models.ErrAlreadyConfirmed)
	}

	pos, err := deps.POS.FindByID(op.PointOfSaleID)
	if err != nil {
		return nil, err
	}
	v, err := New(pos, deps)
	if err != nil {
		return nil, err
	}
	v.op = op
	v.refund = refund
	v.conf = conf

	if !conf.IsRefund {
		if err := v.snapshotConfirmation(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// snapshotConfirmation persists the raw confirmation on the operation
// before any verification, so rejected notifications leave a trace.
func (v *VirtualPOS) snapshotConfirmation() error {
	raw, err := json.Marshal(v.conf.Raw)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"confirmation_code": v.conf.Code,
		"confirmation_data": string(raw),
		"response_code":     v.conf.ResponseCode,
	}
	if err := v.deps.Ops.Update(v.op.ID, updates); err != nil {
		return err
	}
	v.op.ConfirmationCode = v.conf.Code
	v.op.ConfirmationData = string(raw)
	v.op.ResponseCode = v.conf.ResponseCode
	return nil
}

// VerifyConfirmation delegates the signature and authorization checks.
func (v *VirtualPOS) VerifyConfirmation() bool {
	if v.op == nil || v.conf == nil {
		return false
	}
	return v.gw.VerifyConfirmation(v.op, v.conf)
}

// Charge completes a verified payment under a row lock. A concurrent
// redelivery of the same confirmation finds the row completed and gets
// ErrAlreadyConfirmed instead of a double charge.
func (v *VirtualPOS) Charge(ctx context.Context) (*gateway.Ack, error) {
	if v.op == nil || v.conf == nil {
		return nil, ErrNoConfirmation
	}

	var ack *gateway.Ack
	err := v.deps.Ops.WithLock(ctx, v.op.OperationNumber, func(op *models.PaymentOperation) error {
		if op.Status != models.StatusPending {
			return fmt.Errorf("operation %s is %s: %w", op.OperationNumber, op.Status, models.ErrAlreadyConfirmed)
		}
		a, err := v.gw.Charge(ctx, op, v.conf)
		if err != nil {
			return err
		}
		op.Status = models.StatusCompleted
		ack = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.op.Status = models.StatusCompleted
	v.deps.Logger.Info("payment completed",
		zap.String("operation_number", v.op.OperationNumber),
		zap.String("gateway", v.pos.Type))
	return ack, nil
}

// ResponseNok marks the bound operation failed and returns the negative
// acknowledgement. extended, when non-empty, is appended to the stored
// description for the audit trail.
func (v *VirtualPOS) ResponseNok(extended string) (*gateway.Ack, error) {
	if v.op != nil {
		updates := map[string]interface{}{"status": models.StatusFailed}
		if extended != "" {
			v.op.Description += ". " + extended
			updates["description"] = v.op.Description
		}
		if err := v.deps.Ops.Update(v.op.ID, updates); err != nil {
			return nil, err
		}
		v.op.Status = models.StatusFailed
	}
	return v.gw.ResponseNok(v.op, v.conf)
}

// StaticResponseNok answers a notification that never matched an
// operation.
func StaticResponseNok(gatewayType string) *gateway.Ack {
	return gateway.StaticNok(gatewayType)
}

// Refund pushes a partial or total refund for a charged sale, enforcing
// the refund flags of the point of sale, and keeps the parent's
// aggregate status in sync.
func (v *VirtualPOS) Refund(ctx context.Context, saleCode string, amount decimal.Decimal, description string) (bool, error) {
	if !amount.IsPositive() {
		return false, &models.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if description == "" {
		return false, &models.ValidationError{Field: "description", Reason: "must not be empty"}
	}

	op, err := v.deps.Ops.FindRefundable(saleCode, v.pos.ID)
	if err != nil {
		return false, err
	}

	if !v.pos.HasPartialRefunds && !v.pos.HasTotalRefunds {
		return false, fmt.Errorf("point of sale %d admits no refunds: %w", v.pos.ID, models.ErrUnsupportedOperation)
	}
	if amount.GreaterThan(op.Amount) {
		return false, fmt.Errorf("refund of %s exceeds payment of %s: %w",
			amount.StringFixed(2), op.Amount.StringFixed(2), models.ErrPolicyViolation)
	}
	partial := amount.LessThan(op.Amount)
	if partial && !v.pos.HasPartialRefunds {
		return false, fmt.Errorf("partial refunds disabled: %w", models.ErrPolicyViolation)
	}
	if !partial && !v.pos.HasTotalRefunds {
		return false, fmt.Errorf("total refunds disabled: %w", models.ErrPolicyViolation)
	}

	refund := &models.RefundOperation{
		Amount:          amount,
		Description:     description,
		OperationNumber: op.OperationNumber,
		Status:          models.StatusPending,
		PaymentID:       op.ID,
	}
	if err := v.deps.Refunds.Create(refund); err != nil {
		return false, err
	}
	v.op = op
	v.refund = refund

	ok, err := v.gw.Refund(ctx, op, refund)
	if err != nil || !ok {
		if uerr := v.deps.Refunds.Update(refund.ID, map[string]interface{}{"status": models.StatusFailed}); uerr != nil {
			return false, uerr
		}
		refund.Status = models.StatusFailed
		return false, err
	}

	if err := v.deps.Refunds.Update(refund.ID, map[string]interface{}{"status": models.StatusCompleted}); err != nil {
		return false, err
	}
	refund.Status = models.StatusCompleted

	if err := v.recomputeRefundStatus(op); err != nil {
		return false, err
	}
	v.deps.Logger.Info("refund completed",
		zap.String("operation_number", op.OperationNumber),
		zap.String("amount", amount.StringFixed(2)))
	return true, nil
}

// recomputeRefundStatus derives the parent status from the sum of its
// completed refunds.
func (v *VirtualPOS) recomputeRefundStatus(op *models.PaymentOperation) error {
	refunded, err := v.deps.Refunds.SumCompleted(op.ID)
	if err != nil {
		return err
	}

	var status string
	switch {
	case refunded.Equal(op.Amount):
		status = models.StatusCompletelyRefunded
	case refunded.LessThan(op.Amount):
		status = models.StatusPartiallyRefunded
	default:
		return fmt.Errorf("refunds of %s exceed payment of %s on %s: %w",
			refunded.StringFixed(2), op.Amount.StringFixed(2), op.OperationNumber, models.ErrProtocolViolation)
	}
	if err := v.deps.Ops.Update(op.ID, map[string]interface{}{"status": status}); err != nil {
		return err
	}
	op.Status = status
	return nil
}

// RefundResponseOk acknowledges an asynchronous refund notification.
func (v *VirtualPOS) RefundResponseOk() (*gateway.Ack, error) {
	if v.refund == nil {
		return nil, ErrNoConfirmation
	}
	return v.gw.RefundResponseOk(v.op, v.conf)
}

// RefundResponseNok acknowledges a rejected refund notification.
func (v *VirtualPOS) RefundResponseNok() (*gateway.Ack, error) {
	if v.refund == nil {
		return nil, ErrNoConfirmation
	}
	return v.gw.RefundResponseNok(v.op, v.conf)
}

// IsRefundConfirmation reports whether the bound confirmation settles a
// refund.
func (v *VirtualPOS) IsRefundConfirmation() bool {
	return v.conf != nil && v.conf.IsRefund
}
