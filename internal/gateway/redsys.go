package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/pkg/httpclient"
	"virtualpos/internal/pkg/utils"
	"virtualpos/internal/signature"
)

// Redsys implements the Redsys (formerly Sermepa) gateway, including
// its SOAP notification channel and the form-POST refund and
// preauthorization operations.
type Redsys struct {
	creds       *models.RedsysCredentials
	environment string
	prefix      string
	hc          *httpclient.Client
	opts        Options
	logger      *zap.Logger
}

var redsysURLs = map[string]string{
	models.EnvProduction: "https://sis.redsys.es/sis/realizarPago",
	models.EnvTesting:    "https://sis-t.redsys.es:25443/sis/realizarPago",
}

var redsysLanguages = map[string]string{
	"es": "001",
	"en": "002",
	"ca": "003",
	"fr": "004",
	"de": "005",
	"pt": "009",
	"it": "007",
}

// Ds_Merchant_TransactionType values.
const (
	RedsysAuthorization           = "0"
	RedsysPreauthorization        = "1"
	RedsysConfirmPreauthorization = "2"
	RedsysRefund                  = "3"
	RedsysCancelPreauthorization  = "9"
)

// Operative types selectable per point of sale.
const (
	OperativeAuthorization    = "authorization"
	OperativePreauthorization = "preauthorization"
	OperativeRecurring        = "recurring"
)

// redsysTokenRequest asks the gateway to mint a recurring-payment
// reference for the card; the minted value comes back in
// Ds_Merchant_Identifier on the confirmation.
const redsysTokenRequest = "REQUIRED"

const (
	redsysCurrency         = "978"
	redsysSignatureVersion = "HMAC_SHA256_V1"

	// Result markers scraped off the HTML answer to form-POSTed
	// operations (refund, confirm, cancel).
	redsysAcceptedMarker = "operacionAceptada"
	redsysRejectedMarker = "noSePuedeRealizarOperacion"
)

// redsysParameters is the Ds_MerchantParameters JSON document, base64
// encoded into the payment form.
type redsysParameters struct {
	Amount             string `json:"DS_MERCHANT_AMOUNT"`
	Order              string `json:"DS_MERCHANT_ORDER"`
	MerchantCode       string `json:"DS_MERCHANT_MERCHANTCODE"`
	Currency           string `json:"DS_MERCHANT_CURRENCY"`
	TransactionType    string `json:"DS_MERCHANT_TRANSACTIONTYPE"`
	Terminal           string `json:"DS_MERCHANT_TERMINAL"`
	MerchantURL        string `json:"DS_MERCHANT_MERCHANTURL,omitempty"`
	URLOk              string `json:"DS_MERCHANT_URLOK,omitempty"`
	URLKo              string `json:"DS_MERCHANT_URLKO,omitempty"`
	ProductDescription string `json:"DS_MERCHANT_PRODUCTDESCRIPTION,omitempty"`
	ConsumerLanguage   string `json:"DS_MERCHANT_CONSUMERLANGUAGE,omitempty"`
	SumTotal           string `json:"DS_MERCHANT_SUMTOTAL,omitempty"`
	Identifier         string `json:"DS_MERCHANT_IDENTIFIER,omitempty"`
}

func NewRedsys(creds *models.RedsysCredentials, environment, prefix string, hc *httpclient.Client, opts Options, logger *zap.Logger) *Redsys {
	return &Redsys{
		creds:       creds,
		environment: environment,
		prefix:      prefix,
		hc:          hc,
		opts:        opts,
		logger:      logger,
	}
}

func (g *Redsys) Type() string { return models.TypeRedsys }

func (g *Redsys) SetupPayment(_ context.Context, _ *models.PaymentOperation, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return redsysCode(g.prefix), nil
}

// redsysAmount renders an amount in minor units. Redsys rejects a
// leading-zero "000", so a zero amount goes out as "0".
func redsysAmount(d decimal.Decimal) string {
	amount := minorUnits(d)
	if amount == "000" {
		return "0"
	}
	return amount
}

func (g *Redsys) transactionType() string {
	if g.creds.OperativeType == OperativePreauthorization {
		return RedsysPreauthorization
	}
	return RedsysAuthorization
}

func (g *Redsys) PaymentFormData(op *models.PaymentOperation, language string) (*FormData, error) {
	lang, ok := redsysLanguages[language]
	if !ok {
		lang = redsysLanguages["es"]
	}
	amount := redsysAmount(op.Amount)

	params := redsysParameters{
		Amount:             amount,
		Order:              op.OperationNumber,
		MerchantCode:       g.creds.MerchantCode,
		Currency:           redsysCurrency,
		TransactionType:    g.transactionType(),
		Terminal:           g.creds.Terminal,
		MerchantURL:        g.opts.notificationURL(models.TypeRedsys),
		URLOk:              op.URLOk,
		URLKo:              op.URLNok,
		ProductDescription: op.Description,
		ConsumerLanguage:   lang,
		SumTotal:           amount,
	}
	if g.creds.OperativeType == OperativeRecurring {
		params.Identifier = redsysTokenRequest
	}

	encoded, sig, err := g.signParameters(op.OperationNumber, &params)
	if err != nil {
		return nil, err
	}

	return &FormData{
		Action: redsysURLs[g.environment],
		Method: "POST",
		Fields: map[string]string{
			"Ds_SignatureVersion":   redsysSignatureVersion,
			"Ds_MerchantParameters": encoded,
			"Ds_Signature":          sig,
		},
	}, nil
}

// signParameters JSON-encodes and base64s the parameters, then signs
// the base64 blob under the order-derived key.
func (g *Redsys) signParameters(order string, params *redsysParameters) (encoded, sig string, err error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("marshal redsys parameters: %w", err)
	}
	encoded = base64.StdEncoding.EncodeToString(raw)
	sig, err = signature.RedsysSignature(g.creds.EncryptionKey, order, []byte(encoded))
	if err != nil {
		return "", "", err
	}
	return encoded, sig, nil
}

func parseRedsysConfirmation(n *Notification) (*Confirmation, error) {
	if n.Form.Get("Ds_MerchantParameters") != "" {
		return parseRedsysHTTPConfirmation(n)
	}
	body := string(n.Body)
	if strings.Contains(body, "procesaNotificacionSIS") && strings.Contains(body, "SOAP") {
		return parseRedsysSOAPConfirmation(body)
	}
	return nil, fmt.Errorf("redsys notification is neither HTTP POST nor SOAP: %w", models.ErrProtocolViolation)
}

func parseRedsysHTTPConfirmation(n *Notification) (*Confirmation, error) {
	encoded := n.Form.Get("Ds_MerchantParameters")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// The gateway pads with URL-safe base64 on some channels.
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode Ds_MerchantParameters: %w", models.ErrProtocolViolation)
		}
	}
	var params map[string]string
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("parse Ds_MerchantParameters: %w", models.ErrProtocolViolation)
	}

	conf := &Confirmation{
		OperationNumber: params["Ds_Order"],
		Code:            params["Ds_Order"],
		ResponseCode:    params["Ds_Response"],
		Signature:       n.Form.Get("Ds_Signature"),
		Raw:             flatten(n.Form),
		Params:          params,
		MerchantParams:  encoded,
	}
	return conf, classifyRedsysTransaction(conf, params["Ds_TransactionType"])
}

var (
	redsysRequestRe = regexp.MustCompile(`(?s)<Request.+</Request>`)
	redsysFieldRe   = map[string]*regexp.Regexp{
		"Ds_Order":             regexp.MustCompile(`<Ds_Order>([^<]*)</Ds_Order>`),
		"Ds_Response":          regexp.MustCompile(`<Ds_Response>([^<]*)</Ds_Response>`),
		"Ds_TransactionType":   regexp.MustCompile(`<Ds_TransactionType>([^<]*)</Ds_TransactionType>`),
		"Ds_AuthorisationCode": regexp.MustCompile(`<Ds_AuthorisationCode>([^<]*)</Ds_AuthorisationCode>`),
		"Signature":            regexp.MustCompile(`<Signature>([^<]*)</Signature>`),
	}
)

// parseRedsysSOAPConfirmation pulls the signed <Request> fragment out of
// the SOAP body verbatim: the signature covers the exact bytes Redsys
// sent, so the fragment must not be re-serialized.
func parseRedsysSOAPConfirmation(body string) (*Confirmation, error) {
	request := redsysRequestRe.FindString(body)
	if request == "" {
		return nil, fmt.Errorf("redsys soap notification without <Request>: %w", models.ErrProtocolViolation)
	}

	field := func(name string) string {
		m := redsysFieldRe[name].FindStringSubmatch(body)
		if len(m) < 2 {
			return ""
		}
		return m[1]
	}

	order := field("Ds_Order")
	if order == "" {
		return nil, fmt.Errorf("redsys soap notification without Ds_Order: %w", models.ErrProtocolViolation)
	}

	conf := &Confirmation{
		OperationNumber: order,
		Code:            order,
		ResponseCode:    field("Ds_Response"),
		Signature:       field("Signature"),
		Raw:             map[string]string{"BODY": body},
		SOAPRequest:     request,
		SOAP:            true,
	}
	return conf, classifyRedsysTransaction(conf, field("Ds_TransactionType"))
}

func classifyRedsysTransaction(conf *Confirmation, transactionType string) error {
	switch transactionType {
	case RedsysRefund:
		conf.IsRefund = true
	case RedsysAuthorization, RedsysPreauthorization:
	default:
		return fmt.Errorf("unknown Ds_TransactionType %q: %w", transactionType, models.ErrProtocolViolation)
	}
	return nil
}

// VerifyConfirmation checks the HMAC over the channel-specific message
// (raw base64 parameters for HTTP, verbatim <Request> for SOAP) and,
// for payments, that Ds_Response reports an authorized transaction
// (0000-0099).
func (g *Redsys) VerifyConfirmation(op *models.PaymentOperation, conf *Confirmation) bool {
	message := conf.MerchantParams
	if conf.SOAP {
		message = conf.SOAPRequest
	}
	expected, err := signature.RedsysSignature(g.creds.EncryptionKey, op.OperationNumber, []byte(message))
	if err != nil {
		g.logger.Error("redsys signature failed", zap.Error(err))
		return false
	}
	if !signature.RedsysCompare(conf.Signature, expected) {
		return false
	}
	if conf.IsRefund {
		return true
	}
	return redsysAuthorized(conf.ResponseCode)
}

func redsysAuthorized(dsResponse string) bool {
	return len(dsResponse) == 4 && utils.IsNumeric(dsResponse) && strings.HasPrefix(dsResponse, "00")
}

// Charge acknowledges a verified Redsys confirmation. Under the
// preauthorization operative the funds are only blocked, so the
// preauthorization is confirmed against the gateway first.
func (g *Redsys) Charge(ctx context.Context, op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	if g.creds.OperativeType == OperativePreauthorization {
		ok, err := g.ConfirmPreauthorization(ctx, op)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("preauthorization confirmation refused for %s: %w",
				op.OperationNumber, models.ErrRemoteChargeFailure)
		}
		return &Ack{ContentType: "text/plain", Body: "OK"}, nil
	}
	if conf.SOAP {
		return g.soapAck(op.OperationNumber, "OK")
	}
	return &Ack{ContentType: "text/plain", Body: ""}, nil
}

// ResponseNok answers a rejected confirmation. Under the
// preauthorization operative the gateway has already blocked the
// amount, so the block is released first, best effort.
func (g *Redsys) ResponseNok(op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	if op != nil && g.creds.OperativeType == OperativePreauthorization {
		if _, err := g.CancelPreauthorization(context.Background(), op); err != nil {
			g.logger.Warn("redsys preauthorization cancel failed",
				zap.String("order", op.OperationNumber), zap.Error(err))
		}
	}
	if conf != nil && conf.SOAP && op != nil {
		return g.soapAck(op.OperationNumber, "KO")
	}
	return &Ack{ContentType: "text/plain", Body: ""}, nil
}

// soapAck builds the signed synchronization reply the SOAP channel
// expects. The inner message is XML-escaped into the fixed envelope,
// which must stay free of whitespace between marks.
func (g *Redsys) soapAck(order, result string) (*Ack, error) {
	response := fmt.Sprintf(`<Response Ds_Version="0.0"><Ds_Response_Merchant>%s</Ds_Response_Merchant></Response>`, result)
	sig, err := signature.RedsysSignature(g.creds.EncryptionKey, order, []byte(response))
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("<Message>%s<Signature>%s</Signature></Message>", response, sig)
	out := "<?xml version='1.0' encoding='UTF-8'?>" +
		"<SOAP-ENV:Envelope xmlns:SOAP-ENV=\"http://schemas.xmlsoap.org/soap/envelope/\" " +
		"xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\" xmlns:xsd=\"http://www.w3.org/2001/XMLSchema\">" +
		"<SOAP-ENV:Body><ns1:procesaNotificacionSISResponse xmlns:ns1=\"InotificacionSIS\" " +
		"SOAP-ENV:encodingStyle=\"http://schemas.xmlsoap.org/soap/encoding/\">" +
		"<result xsi:type=\"xsd:string\">" + xmlEscape(message) + "</result>" +
		"</ns1:procesaNotificacionSISResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>"
	return &Ack{ContentType: "text/xml", Body: out}, nil
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Refund POSTs a type 3 operation to the regular payment endpoint and
// scrapes the HTML answer for the gateway's accept/reject markers.
func (g *Redsys) Refund(ctx context.Context, op *models.PaymentOperation, ref *models.RefundOperation) (bool, error) {
	return g.formOperation(ctx, op, RedsysRefund, redsysAmount(ref.Amount), ref.Description)
}

// ConfirmPreauthorization settles a previously blocked amount (type 2).
func (g *Redsys) ConfirmPreauthorization(ctx context.Context, op *models.PaymentOperation) (bool, error) {
	return g.formOperation(ctx, op, RedsysConfirmPreauthorization, redsysAmount(op.Amount), op.Description)
}

// CancelPreauthorization releases a blocked amount (type 9).
func (g *Redsys) CancelPreauthorization(ctx context.Context, op *models.PaymentOperation) (bool, error) {
	return g.formOperation(ctx, op, RedsysCancelPreauthorization, redsysAmount(op.Amount), op.Description)
}

func (g *Redsys) formOperation(_ context.Context, op *models.PaymentOperation, transactionType, amount, description string) (bool, error) {
	params := redsysParameters{
		Amount:             amount,
		Order:              op.OperationNumber,
		MerchantCode:       g.creds.MerchantCode,
		Currency:           redsysCurrency,
		TransactionType:    transactionType,
		Terminal:           g.creds.Terminal,
		MerchantURL:        g.opts.notificationURL(models.TypeRedsys),
		ProductDescription: description,
	}
	encoded, sig, err := g.signParameters(op.OperationNumber, &params)
	if err != nil {
		return false, err
	}

	body, status, err := g.hc.PostFormStatus(redsysURLs[g.environment], map[string]string{
		"Ds_SignatureVersion":   redsysSignatureVersion,
		"Ds_MerchantParameters": encoded,
		"Ds_Signature":          sig,
	})
	if err != nil {
		return false, err
	}
	if status != 200 {
		g.logger.Warn("redsys operation endpoint returned non-200",
			zap.Int("status", status), zap.String("order", op.OperationNumber),
			zap.String("transaction_type", transactionType))
		return false, nil
	}

	page := string(body)
	switch {
	case strings.Contains(page, redsysRejectedMarker):
		return false, nil
	case strings.Contains(page, redsysAcceptedMarker):
		return true, nil
	default:
		return false, fmt.Errorf("redsys answer carries no result marker: %w", models.ErrProtocolViolation)
	}
}

func (g *Redsys) RefundResponseOk(op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	if conf != nil && conf.SOAP && op != nil {
		return g.soapAck(op.OperationNumber, "OK")
	}
	return &Ack{ContentType: "text/plain", Body: ""}, nil
}

func (g *Redsys) RefundResponseNok(op *models.PaymentOperation, conf *Confirmation) (*Ack, error) {
	return g.ResponseNok(op, conf)
}
