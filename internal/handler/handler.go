package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/pkg/auth"
	"github.com/libtrack/loan-service/pkg/validate"
)

type Handler struct {
	svc           LoanService
	callbackToken string
	authMW        echo.MiddlewareFunc
	log           *zap.Logger
}

func New(svc LoanService, callbackToken, authMode string, log *zap.Logger) *Handler {
	authMW := auth.JwtAuthentication
	if authMode == auth.ModeHeader {
		authMW = auth.AuthContext
	}
	return &Handler{
		svc:           svc,
		callbackToken: callbackToken,
		authMW:        authMW,
		log:           log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	e.Validator = validate.NewCustomValidator()

	base := e.Group("", newRateLimiterMW(baseRPS))
	base.GET("/manage/health", h.Health)
	base.POST("/manage/sweep", h.Sweep, h.authMW)

	// the gateway posts here with a shared token; it carries no user JWT
	e.POST("/api/v1/payments/webhook", h.PaymentWebhook, newRateLimiterMW(baseRPS))

	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(requestLoggerConfig(h.log)),
		middleware.RequestID(),
		newRateLimiterMW(apiRPS),
		h.authMW,
	)

	api.GET("/books", h.ListBooks)
	api.GET("/books/:id", h.GetBook)
	api.POST("/books", h.CreateBook)
	api.PUT("/books/:id", h.UpdateBook)
	api.DELETE("/books/:id", h.DeleteBook)
	api.GET("/books/:id/reviews", h.ListBookReviews)

	api.POST("/loans", h.CreateLoan)
	api.GET("/loans", h.ListLoans)
	api.GET("/loans/:id", h.GetLoan)
	api.POST("/loans/:id/approve", h.ApproveLoan)
	api.POST("/loans/:id/reject", h.RejectLoan)
	api.POST("/loans/:id/pickup", h.PickupLoan)
	api.POST("/loans/:id/return-request", h.RequestReturn)
	api.POST("/loans/:id/return-confirm", h.ConfirmReturn)
	api.POST("/loans/:id/review", h.CreateReview)

	api.POST("/loans/:id/invoice", h.CreateInvoice)
	api.POST("/loans/:id/verify-payment", h.VerifyPayment)
	api.GET("/payments/pending-verification", h.ListPendingVerification)
	api.GET("/payments/:externalId", h.PaymentStatus)

	api.GET("/messages", h.ListMessages)
	api.POST("/messages/:id/read", h.MarkMessageRead)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) Sweep(c echo.Context) error {
	p, err := auth.GetPrincipal(c)
	if err != nil {
		return err
	}
	if !p.IsStaff() {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	swept, err := h.svc.SweepExpired(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"rejected": swept})
}

// httpError maps the service error taxonomy onto status codes: guard
// violations become conflicts, distinct from not-found and role failures, and
// gateway outages surface as retryable.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrBadDuration):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrWrongState),
		errors.Is(err, errs.ErrDuplicateLoan),
		errors.Is(err, errs.ErrNoCopies),
		errors.Is(err, errs.ErrNoFine),
		errors.Is(err, errs.ErrDuplicateReview),
		errors.Is(err, errs.ErrInvoiceMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrGatewayUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, errs.ErrGatewayUnavailable.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
