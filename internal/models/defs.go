package models

// Gateway type tags. Used as dispatch keys and stored on operations.
const (
	TypeCeca            = "ceca"
	TypeRedsys          = "redsys"
	TypePaypal          = "paypal"
	TypeSantanderElavon = "santanderelavon"
	TypeBitpay          = "bitpay"
)

// GatewayTypes lists every supported gateway tag.
var GatewayTypes = []string{TypeCeca, TypeRedsys, TypePaypal, TypeSantanderElavon, TypeBitpay}

// Environments.
const (
	EnvTesting    = "testing"
	EnvProduction = "production"
)

// Payment operation statuses.
const (
	StatusPending            = "pending"
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusPartiallyRefunded  = "partially_refunded"
	StatusCompletelyRefunded = "completely_refunded"
)
