package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"membership_checkout/internal/middleware"
	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
)

// OrderService is the order lifecycle as seen by the HTTP layer.
type OrderService interface {
	InitiatePurchase(ctx context.Context, req services.PurchaseRequest) (*services.PurchaseResult, error)
	CheckStatus(ctx context.Context, identity services.Identity, gatewayIntentID string, claimed services.Outcome) (*services.ReportResult, error)
	Reconcile(ctx context.Context, orderID string) (*services.ReportResult, error)
	GetOrder(ctx context.Context, identity services.Identity, orderID string) (*models.PaymentOrder, error)
}

type OrderHandler struct {
	orders OrderService
}

func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreatePaymentIntent starts a purchase for the authenticated user.
// The idempotency key may come from the body or the Idempotency-Key header.
func (h *OrderHandler) CreatePaymentIntent(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return services.ErrUnauthenticated
	}

	var req CreateIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if strings.TrimSpace(req.PackageName) == "" {
		return services.ErrUnknownPackage
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.Request().Header.Get("Idempotency-Key")
	}

	res, err := h.orders.InitiatePurchase(c.Request().Context(), services.PurchaseRequest{
		Identity:       identity,
		PackageName:    req.PackageName,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, CreateIntentResponse{
		OrderID:         res.OrderID,
		ClientSecret:    res.ClientSecret,
		GatewayIntentID: res.GatewayIntentID,
		Amount:          res.Amount,
		Currency:        res.Currency,
	})
}

// ReportPaymentStatus accepts the client's view of a payment outcome.
// The outcome is confirmed with the gateway before anything changes.
func (h *OrderHandler) ReportPaymentStatus(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return services.ErrUnauthenticated
	}

	var req ReportStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if req.GatewayIntentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "gatewayIntentId is required")
	}
	outcome, err := services.ParseOutcome(req.Outcome)
	if err != nil {
		return err
	}

	res, err := h.orders.CheckStatus(c.Request().Context(), identity, req.GatewayIntentID, outcome)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ReportStatusResponse{
		OK:      true,
		Status:  res.Order.Status,
		Applied: res.Applied,
	})
}

// ReconcileOrder polls the gateway for one of the caller's orders.
func (h *OrderHandler) ReconcileOrder(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return services.ErrUnauthenticated
	}

	ctx := c.Request().Context()
	orderID := c.Param("orderId")
	if _, err := h.orders.GetOrder(ctx, identity, orderID); err != nil {
		return err
	}

	res, err := h.orders.Reconcile(ctx, orderID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ReportStatusResponse{
		OK:      true,
		Status:  res.Order.Status,
		Applied: res.Applied,
	})
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return services.ErrUnauthenticated
	}

	order, err := h.orders.GetOrder(c.Request().Context(), identity, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orderResponse(order))
}
