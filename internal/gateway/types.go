// Package gateway contains the adapters that speak each bank's wire
// protocol. Adapters are stateless: every call receives the operation
// it concerns and returns its results explicitly.
package gateway

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Notification is an inbound gateway callback, already read off the
// HTTP request so adapters never touch the transport layer.
type Notification struct {
	Method string
	Query  url.Values
	Form   url.Values
	Body   []byte
}

// Confirmation is the parsed, gateway-independent view of a
// notification. OperationNumber is the correlation key; Raw keeps the
// full payload for auditing and signature checks.
type Confirmation struct {
	OperationNumber string
	// Code is the gateway reference for the confirmed operation
	// (bank reference, pasref:authcode pair, payer ID, invoice status).
	Code         string
	ResponseCode string
	Signature    string
	Raw          map[string]string

	// Redsys only: decoded Ds_MerchantParameters, the raw base64 blob
	// (signed as-is on the HTTP channel) and the verbatim <Request>
	// fragment (signed as-is on the SOAP channel).
	Params         map[string]string
	MerchantParams string
	SOAPRequest    string
	SOAP           bool

	// IsRefund marks notifications that settle a refund rather than a
	// payment.
	IsRefund bool

	// ReceivedAt is stamped when the confirmation is bound to an
	// operation. Gateways with a charge deadline measure from here.
	ReceivedAt time.Time
}

// FormData describes the form the shop must render (or the redirect it
// must issue) to hand the customer over to the gateway.
type FormData struct {
	Action string            `json:"action"`
	Method string            `json:"method"`
	Fields map[string]string `json:"fields"`
	Type   string            `json:"type"`
}

// Ack is what the gateway expects back from a notification endpoint.
// Exactly one of Body or RedirectURL is meaningful.
type Ack struct {
	ContentType string
	Body        string
	RedirectURL string
}

// Options carries service-level settings shared by adapters.
type Options struct {
	// NotificationBase is the public base URL of this service, used to
	// build per-gateway notification endpoints.
	NotificationBase string
	// CecaChargeBudget bounds how long after receiving a CECA
	// confirmation the charge acknowledgement may still be sent. The
	// gateway itself gives up at thirty seconds; the default keeps a
	// margin under that.
	CecaChargeBudget time.Duration
}

// DefaultCecaChargeBudget is the charge window used when Options leaves
// it zero.
const DefaultCecaChargeBudget = 12 * time.Second

func (o Options) cecaChargeBudget() time.Duration {
	if o.CecaChargeBudget > 0 {
		return o.CecaChargeBudget
	}
	return DefaultCecaChargeBudget
}

func (o Options) notificationURL(gatewayType string) string {
	return strings.TrimRight(o.NotificationBase, "/") + "/payment/" + gatewayType + "/confirmation"
}

// minorUnits renders an amount the way most of the gateways want it:
// two decimals with the separator stripped ("10.00" -> "1000").
func minorUnits(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", "", 1)
}

func flatten(vs url.Values) map[string]string {
	out := make(map[string]string, len(vs))
	for k := range vs {
		out[k] = vs.Get(k)
	}
	return out
}
