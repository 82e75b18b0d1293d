package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"virtualpos/internal/handler"
	"virtualpos/internal/middleware"
	"virtualpos/internal/repository"
	"virtualpos/internal/vpos"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	deps *vpos.Deps,
	posRepo *repository.PointOfSaleRepository,
	deduper middleware.ConfirmationDeduper,
	logger *zap.Logger,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))

	confirmationHandler := handler.NewConfirmationHandler(deps, logger)
	apiHandler := handler.NewPaymentAPIHandler(deps, posRepo, logger)

	// Gateway notifications. PayPal sends the payer back by GET; the
	// others POST (forms, JSON webhooks or SOAP bodies).
	paymentGroup := e.Group("/payment")
	paymentGroup.Use(middleware.ConfirmationDedup(deduper))
	paymentGroup.POST("/:gateway/confirmation", confirmationHandler.Handle)
	paymentGroup.GET("/:gateway/confirmation", confirmationHandler.Handle)

	// Shop-facing API
	apiGroup := e.Group("/api")
	apiGroup.POST("/payments", apiHandler.CreatePayment)
	apiGroup.POST("/refunds", apiHandler.CreateRefund)
	apiGroup.GET("/points-of-sale", apiHandler.ListPointsOfSale)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
