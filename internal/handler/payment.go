package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

const callbackTokenHeader = "X-Callback-Token"

func (h *Handler) CreateInvoice(c echo.Context) error {
	p, err := auth.GetPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

// PaymentWebhook ingests the gateway's asynchronous notification. The shared
// callback token is the only authentication on this route; a bad token or an
// uncorrelated payload is rejected so the gateway retries delivery.
func (h *Handler) PaymentWebhook(c echo.Context) error {
	token := c.Request().Header.Get(callbackTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid callback token")
	}
	var payload model.WebhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(payload); err != nil {
		return err
	}
	if err := h.svc.ProcessWebhook(c.Request().Context(), payload); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) VerifyPayment(c echo.Context) error {
	p, err := auth.GetPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req model.VerifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	loan, err := h.svc.VerifyPayment(c.Request().Context(), p, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) PaymentStatus(c echo.Context) error {
	externalID := c.Param("externalId")
	if externalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "externalId is empty")
	}
	status, err := h.svc.PaymentStatus(c.Request().Context(), externalID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) ListPendingVerification(c echo.Context) error {
	p, err := auth.GetPrincipal(c)
	if err != nil {
		return err
	}
	loans, err := h.svc.ListPendingVerification(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, loans)
}
