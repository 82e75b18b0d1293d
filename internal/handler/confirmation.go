package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"virtualpos/internal/gateway"
	"virtualpos/internal/models"
	"virtualpos/internal/vpos"
)

// ConfirmationHandler terminates the gateway notification endpoints.
type ConfirmationHandler struct {
	deps   *vpos.Deps
	logger *zap.Logger
}

func NewConfirmationHandler(deps *vpos.Deps, logger *zap.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{deps: deps, logger: logger}
}

// Handle processes a payment or refund notification for the gateway in
// the route. The payload decides the channel (form POST, SOAP, JSON,
// query-string return); parsing is delegated to the gateway adapters.
func (h *ConfirmationHandler) Handle(c echo.Context) error {
	gatewayType := c.Param("gateway")

	n, err := readNotification(c)
	if err != nil {
		h.logger.Warn("unreadable notification", zap.String("gateway", gatewayType), zap.Error(err))
		return writeAck(c, vpos.StaticResponseNok(gatewayType))
	}

	v, err := vpos.ReceiveConfirmation(n, gatewayType, h.deps)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyConfirmed):
			// Redelivery of a settled operation: acknowledge so the
			// gateway stops retrying, without touching the row.
			h.logger.Info("duplicate confirmation", zap.String("gateway", gatewayType), zap.Error(err))
			return c.NoContent(http.StatusOK)
		case errors.Is(err, models.ErrNotFound):
			h.logger.Warn("confirmation for unknown operation", zap.String("gateway", gatewayType), zap.Error(err))
		default:
			h.logger.Warn("confirmation rejected", zap.String("gateway", gatewayType), zap.Error(err))
		}
		return writeAck(c, vpos.StaticResponseNok(gatewayType))
	}

	if v.IsRefundConfirmation() {
		return h.handleRefund(c, v)
	}
	return h.handlePayment(c, v)
}

func (h *ConfirmationHandler) handlePayment(c echo.Context, v *vpos.VirtualPOS) error {
	if !v.VerifyConfirmation() {
		ack, err := v.ResponseNok("confirmation verification failed")
		if err != nil {
			return err
		}
		return writeAck(c, ack)
	}

	ack, err := v.Charge(c.Request().Context())
	if err != nil {
		if errors.Is(err, models.ErrAlreadyConfirmed) {
			// A concurrent delivery won the row-lock race and settled
			// the operation. Acknowledge without touching the row: a
			// nok here would drag the completed row back to failed.
			h.logger.Info("charge lost to concurrent delivery",
				zap.String("operation_number", v.Operation().OperationNumber))
			return c.NoContent(http.StatusOK)
		}
		h.logger.Error("charge failed",
			zap.String("operation_number", v.Operation().OperationNumber), zap.Error(err))
		nok, nerr := v.ResponseNok(err.Error())
		if nerr != nil {
			return nerr
		}
		return writeAck(c, nok)
	}
	return writeAck(c, ack)
}

func (h *ConfirmationHandler) handleRefund(c echo.Context, v *vpos.VirtualPOS) error {
	var (
		ack *gateway.Ack
		err error
	)
	if v.VerifyConfirmation() {
		ack, err = v.RefundResponseOk()
	} else {
		ack, err = v.RefundResponseNok()
	}
	if err != nil {
		return err
	}
	return writeAck(c, ack)
}

// readNotification snapshots the request into the transport-free form
// the adapters consume.
func readNotification(c echo.Context) (*gateway.Notification, error) {
	req := c.Request()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
	}

	form := url.Values{}
	if strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm) {
		parsed, err := url.ParseQuery(string(body))
		if err == nil {
			form = parsed
		}
	}

	return &gateway.Notification{
		Method: req.Method,
		Query:  c.QueryParams(),
		Form:   form,
		Body:   body,
	}, nil
}

func writeAck(c echo.Context, ack *gateway.Ack) error {
	if ack == nil {
		return c.NoContent(http.StatusOK)
	}
	if ack.RedirectURL != "" {
		return c.Redirect(http.StatusFound, ack.RedirectURL)
	}
	contentType := ack.ContentType
	if contentType == "" {
		contentType = echo.MIMETextPlain
	}
	return c.Blob(http.StatusOK, contentType, []byte(ack.Body))
}
