package models

import "errors"

// Sentinel errors shared by the facade, the gateway adapters and the
// HTTP handlers. Wrap with fmt.Errorf("...: %w", err) and test with
// errors.Is.
var (
	// ErrNotFound: no operation (or point of sale) matches the lookup key.
	ErrNotFound = errors.New("operation not found")

	// ErrAlreadyConfirmed: a confirmation arrived for an operation that
	// is no longer pending.
	ErrAlreadyConfirmed = errors.New("operation already confirmed")

	// ErrGatewayRejected: the remote gateway refused the request
	// (bad setup response, missing token, KO page).
	ErrGatewayRejected = errors.New("gateway rejected the operation")

	// ErrTimeBudgetExceeded: the charge window closed before the charge ran.
	ErrTimeBudgetExceeded = errors.New("charge time budget exceeded")

	// ErrRemoteChargeFailure: the gateway accepted the confirmation but
	// denied the remote settle call.
	ErrRemoteChargeFailure = errors.New("remote charge failed")

	// ErrProtocolViolation: the gateway answered with something outside
	// its documented protocol.
	ErrProtocolViolation = errors.New("gateway protocol violation")

	// ErrUnsupportedOperation: the gateway (or its configuration) does not
	// implement the requested operation.
	ErrUnsupportedOperation = errors.New("operation not supported by this gateway")

	// ErrPolicyViolation: the refund request conflicts with the refund
	// flags of the point of sale or with the original amount.
	ErrPolicyViolation = errors.New("refund policy violation")
)

// ValidationError reports an invalid payment parameter by field name.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
