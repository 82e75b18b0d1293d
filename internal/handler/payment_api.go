package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"virtualpos/internal/models"
	"virtualpos/internal/repository"
	"virtualpos/internal/vpos"
)

// PaymentAPIHandler is the shop-facing API: start payments, request
// refunds, list points of sale.
type PaymentAPIHandler struct {
	deps    *vpos.Deps
	posRepo *repository.PointOfSaleRepository
	logger  *zap.Logger
}

func NewPaymentAPIHandler(deps *vpos.Deps, posRepo *repository.PointOfSaleRepository, logger *zap.Logger) *PaymentAPIHandler {
	return &PaymentAPIHandler{deps: deps, posRepo: posRepo, logger: logger}
}

type createPaymentRequest struct {
	PointOfSaleID uint            `json:"point_of_sale_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	URLOk         string          `json:"url_ok"`
	URLNok        string          `json:"url_nok"`
	SaleCode      string          `json:"sale_code"`
	Language      string          `json:"language"`
}

// CreatePayment configures and sets up a payment in one call and
// returns the form the shop must render.
func (h *PaymentAPIHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	pos, err := h.posRepo.FindByID(req.PointOfSaleID)
	if err != nil {
		return h.fail(c, err)
	}
	v, err := vpos.New(pos, h.deps)
	if err != nil {
		return h.fail(c, err)
	}

	if err := v.ConfigurePayment(vpos.ConfigureParams{
		Amount:      req.Amount,
		Description: req.Description,
		URLOk:       req.URLOk,
		URLNok:      req.URLNok,
		SaleCode:    req.SaleCode,
		Language:    req.Language,
	}); err != nil {
		return h.fail(c, err)
	}

	number, err := v.SetupPayment(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	form, err := v.PaymentFormData()
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"operation_number": number,
		"form":             form,
	})
}

type refundRequest struct {
	PointOfSaleID uint            `json:"point_of_sale_id"`
	SaleCode      string          `json:"sale_code"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

// CreateRefund refunds a charged sale, partially or in full.
func (h *PaymentAPIHandler) CreateRefund(c echo.Context) error {
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	pos, err := h.posRepo.FindByID(req.PointOfSaleID)
	if err != nil {
		return h.fail(c, err)
	}
	v, err := vpos.New(pos, h.deps)
	if err != nil {
		return h.fail(c, err)
	}

	ok, err := v.Refund(c.Request().Context(), req.SaleCode, req.Amount, req.Description)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"refunded": ok})
}

// ListPointsOfSale returns every active point of sale.
func (h *PaymentAPIHandler) ListPointsOfSale(c echo.Context) error {
	all, err := h.posRepo.FindAll()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, all)
}

func (h *PaymentAPIHandler) fail(c echo.Context, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorBody(verr.Error()))
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, models.ErrPolicyViolation), errors.Is(err, models.ErrUnsupportedOperation):
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, models.ErrGatewayRejected):
		return c.JSON(http.StatusBadGateway, errorBody(err.Error()))
	default:
		h.logger.Error("payment api error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
