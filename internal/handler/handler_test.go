package handler_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/handler"
	mock_handler "github.com/libtrack/loan-service/internal/handler/mocks"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

const testCallbackToken = "cb-secret"

var (
	userAlice = auth.Principal{UserID: 1, Username: "alice", Role: auth.RoleUser}
	staffBob  = auth.Principal{UserID: 2, Username: "bob", Role: auth.RoleStaff}
)

func newTestRouter(t *testing.T) (*mock_handler.MockLoanService, http.Handler) {
	return newTestRouterMode(t, auth.ModeJWT)
}

func newTestRouterMode(t *testing.T, authMode string) (*mock_handler.MockLoanService, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	svc := mock_handler.NewMockLoanService(ctrl)
	h := handler.New(svc, testCallbackToken, authMode, zap.NewNop())
	return svc, h.NewRouter()
}

func bearer(t *testing.T, p auth.Principal) string {
	t.Helper()
	claims := new(auth.Claims)
	claims.Profile.UserID = p.UserID
	claims.Profile.Username = p.Username
	claims.Profile.Role = p.Role
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.JWTKey)
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(auth.AuthorizationHeader, token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateLoan(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		principal    *auth.Principal
		mockBehavior func(svc *mock_handler.MockLoanService)
		wantCode     int
	}{
		{
			name:      "created",
			body:      `{"bookId":1,"days":14}`,
			principal: &userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().
					CreateLoan(gomock.Any(), userAlice, model.CreateLoanRequest{BookID: 1, Days: 14}).
					Return(model.Loan{ID: 7, UserID: 1, BookID: 1, Status: model.LoanPending, RequestedDays: 14}, nil)
			},
			wantCode: http.StatusCreated,
		},
		{
			name:         "no token",
			body:         `{"bookId":1,"days":14}`,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusUnauthorized,
		},
		{
			name:         "malformed body",
			body:         `{"bookId":`,
			principal:    &userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusBadRequest,
		},
		{
			name:         "duration below minimum rejected before the service",
			body:         `{"bookId":1,"days":5}`,
			principal:    &userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusBadRequest,
		},
		{
			name:      "no copies",
			body:      `{"bookId":1,"days":14}`,
			principal: &userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().
					CreateLoan(gomock.Any(), userAlice, gomock.Any()).
					Return(model.Loan{}, errs.ErrNoCopies)
			},
			wantCode: http.StatusConflict,
		},
		{
			name:      "duplicate active loan",
			body:      `{"bookId":1,"days":14}`,
			principal: &userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().
					CreateLoan(gomock.Any(), userAlice, gomock.Any()).
					Return(model.Loan{}, errs.ErrDuplicateLoan)
			},
			wantCode: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := newTestRouter(t)
			tt.mockBehavior(svc)

			token := ""
			if tt.principal != nil {
				token = bearer(t, *tt.principal)
			}
			w := doJSON(router, http.MethodPost, "/api/v1/loans", token, tt.body)
			require.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestLoanTransitions(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		principal    auth.Principal
		mockBehavior func(svc *mock_handler.MockLoanService)
		wantCode     int
	}{
		{
			name:      "approve ok",
			target:    "/api/v1/loans/5/approve",
			principal: staffBob,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ApproveLoan(gomock.Any(), staffBob, 5).
					Return(model.Loan{ID: 5, Status: model.LoanApproved}, nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:      "approve guard miss",
			target:    "/api/v1/loans/5/approve",
			principal: staffBob,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ApproveLoan(gomock.Any(), staffBob, 5).
					Return(model.Loan{}, errs.ErrWrongState)
			},
			wantCode: http.StatusConflict,
		},
		{
			name:      "approve forbidden",
			target:    "/api/v1/loans/5/approve",
			principal: userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ApproveLoan(gomock.Any(), userAlice, 5).
					Return(model.Loan{}, errs.ErrForbidden)
			},
			wantCode: http.StatusForbidden,
		},
		{
			name:      "pickup ok",
			target:    "/api/v1/loans/5/pickup",
			principal: userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().PickupLoan(gomock.Any(), userAlice, 5).
					Return(model.Loan{ID: 5, Status: model.LoanBorrowed}, nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:      "return request ok",
			target:    "/api/v1/loans/5/return-request",
			principal: userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().RequestReturn(gomock.Any(), userAlice, 5).
					Return(model.Loan{ID: 5, Status: model.LoanReturnRequested}, nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:      "return confirm ok",
			target:    "/api/v1/loans/5/return-confirm",
			principal: staffBob,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ConfirmReturn(gomock.Any(), staffBob, 5).
					Return(model.Loan{ID: 5, Status: model.LoanReturned, FineDays: 2, FineAmount: 4000}, nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:         "bad id",
			target:       "/api/v1/loans/abc/approve",
			principal:    staffBob,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusBadRequest,
		},
		{
			name:      "unknown loan",
			target:    "/api/v1/loans/404/pickup",
			principal: userAlice,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().PickupLoan(gomock.Any(), userAlice, 404).
					Return(model.Loan{}, errs.ErrNotFound)
			},
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := newTestRouter(t)
			tt.mockBehavior(svc)

			w := doJSON(router, http.MethodPost, tt.target, bearer(t, tt.principal), "")
			require.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRejectLoan(t *testing.T) {
	svc, router := newTestRouter(t)
	svc.EXPECT().RejectLoan(gomock.Any(), staffBob, 5, "damaged copy").
		Return(model.Loan{ID: 5, Status: model.LoanRejected, Notes: "damaged copy"}, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/loans/5/reject", bearer(t, staffBob), `{"reason":"damaged copy"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"rejected"`)

	// reason is mandatory
	w = doJSON(router, http.MethodPost, "/api/v1/loans/5/reject", bearer(t, staffBob), `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBook(t *testing.T) {
	svc, router := newTestRouter(t)
	svc.EXPECT().GetBook(gomock.Any(), 3).
		Return(model.BookAvailability{
			Book:      model.Book{ID: 3, Title: "Working Effectively with Legacy Code", Author: "Feathers", Stock: 4},
			Available: 2,
		}, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/books/3", bearer(t, userAlice), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"available":2`)

	svc.EXPECT().GetBook(gomock.Any(), 404).Return(model.BookAvailability{}, errs.ErrNotFound)
	w = doJSON(router, http.MethodGet, "/api/v1/books/404", bearer(t, userAlice), "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBookValidation(t *testing.T) {
	svc, router := newTestRouter(t)

	// author is required
	w := doJSON(router, http.MethodPost, "/api/v1/books", bearer(t, staffBob), `{"title":"No Author"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	svc.EXPECT().CreateBook(gomock.Any(), staffBob, model.CreateBookRequest{Title: "SICP", Author: "Abelson, Sussman", Stock: 2}).
		Return(model.Book{ID: 9, Title: "SICP", Author: "Abelson, Sussman", Stock: 2}, nil)
	w = doJSON(router, http.MethodPost, "/api/v1/books", bearer(t, staffBob), `{"title":"SICP","author":"Abelson, Sussman","stock":2}`)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestPaymentWebhook(t *testing.T) {
	payload := `{"invoiceId":"inv-1","externalId":"FINE-5-1767225600","status":"PAID"}`
	tests := []struct {
		name         string
		token        string
		body         string
		mockBehavior func(svc *mock_handler.MockLoanService)
		wantCode     int
	}{
		{
			name:  "accepted",
			token: testCallbackToken,
			body:  payload,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ProcessWebhook(gomock.Any(), model.WebhookPayload{
					InvoiceID: "inv-1", ExternalID: "FINE-5-1767225600", Status: "PAID",
				}).Return(nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name:         "wrong token",
			token:        "guess",
			body:         payload,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusUnauthorized,
		},
		{
			name:         "missing status field",
			token:        testCallbackToken,
			body:         `{"invoiceId":"inv-1","externalId":"FINE-5-1767225600"}`,
			mockBehavior: func(svc *mock_handler.MockLoanService) {},
			wantCode:     http.StatusBadRequest,
		},
		{
			name:  "uncorrelated payload",
			token: testCallbackToken,
			body:  payload,
			mockBehavior: func(svc *mock_handler.MockLoanService) {
				svc.EXPECT().ProcessWebhook(gomock.Any(), gomock.Any()).Return(errs.ErrInvoiceMismatch)
			},
			wantCode: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := newTestRouter(t)
			tt.mockBehavior(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.Header.Set("X-Callback-Token", tt.token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			require.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestVerifyPayment(t *testing.T) {
	svc, router := newTestRouter(t)

	// decision must be approve or reject
	w := doJSON(router, http.MethodPost, "/api/v1/loans/5/verify-payment", bearer(t, staffBob), `{"decision":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	svc.EXPECT().VerifyPayment(gomock.Any(), staffBob, 5, model.VerifyPaymentRequest{Decision: "approve", Note: "ok"}).
		Return(model.Loan{ID: 5, Status: model.LoanReturned, FinePaid: true}, nil)
	w = doJSON(router, http.MethodPost, "/api/v1/loans/5/verify-payment", bearer(t, staffBob), `{"decision":"approve","note":"ok"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"finePaid":true`)
}

func TestCreateInvoice(t *testing.T) {
	svc, router := newTestRouter(t)
	svc.EXPECT().CreateInvoice(gomock.Any(), userAlice, 5).
		Return(model.InvoiceResponse{LoanID: 5, InvoiceID: "inv-1", ExternalID: "FINE-5-1767225600", Amount: 4000}, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/loans/5/invoice", bearer(t, userAlice), "")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"invoiceId":"inv-1"`)

	svc.EXPECT().CreateInvoice(gomock.Any(), userAlice, 6).
		Return(model.InvoiceResponse{}, errs.ErrGatewayUnavailable)
	w = doJSON(router, http.MethodPost, "/api/v1/loans/6/invoice", bearer(t, userAlice), "")
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPaymentStatus(t *testing.T) {
	svc, router := newTestRouter(t)
	gatewayStatus := model.GatewayPendingVerification
	svc.EXPECT().PaymentStatus(gomock.Any(), "FINE-5-1767225600").
		Return(model.PaymentStatusResponse{
			LoanID: 5, InvoiceID: "inv-1", ExternalID: "FINE-5-1767225600",
			GatewayStatus: &gatewayStatus, FineAmount: 4000,
		}, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/payments/FINE-5-1767225600", bearer(t, userAlice), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"gatewayStatus":"pending_verification"`)
}

func TestSweep(t *testing.T) {
	svc, router := newTestRouter(t)
	svc.EXPECT().SweepExpired(gomock.Any()).Return(3, nil)

	w := doJSON(router, http.MethodPost, "/manage/sweep", bearer(t, staffBob), "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"rejected":3}`, w.Body.String())

	w = doJSON(router, http.MethodPost, "/manage/sweep", bearer(t, userAlice), "")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHeaderAuthMode(t *testing.T) {
	// gateway-terminated deployments trust the upstream identity headers
	// instead of validating a JWT
	svc, router := newTestRouterMode(t, auth.ModeHeader)
	svc.EXPECT().ListLoans(gomock.Any(), userAlice, model.LoanStatus(""), 0, 0).
		Return([]model.Loan{{ID: 1, UserID: 1}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
	req.Header.Set(auth.XUserNameHeader, userAlice.Username)
	req.Header.Set(auth.XUserRoleHeader, userAlice.Role)
	req.Header.Set(auth.XUserIDHeader, "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// no identity headers, no access
	req = httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// a bearer token alone does not satisfy header mode
	req = httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
	req.Header.Set(auth.AuthorizationHeader, bearer(t, userAlice))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/manage/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}
