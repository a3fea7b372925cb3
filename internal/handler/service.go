package handler

import (
	"context"

	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/internal/service"
	"github.com/libtrack/loan-service/pkg/auth"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type LoanService interface {
	// catalog
	GetBook(ctx context.Context, id int) (model.BookAvailability, error)
	ListBooks(ctx context.Context, page, size int) ([]model.BookAvailability, error)
	CreateBook(ctx context.Context, p auth.Principal, req model.CreateBookRequest) (model.Book, error)
	UpdateBook(ctx context.Context, p auth.Principal, id int, req model.CreateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, p auth.Principal, id int) error

	// loan lifecycle
	CreateLoan(ctx context.Context, p auth.Principal, req model.CreateLoanRequest) (model.Loan, error)
	ApproveLoan(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error)
	RejectLoan(ctx context.Context, p auth.Principal, loanID int, reason string) (model.Loan, error)
	PickupLoan(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error)
	RequestReturn(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error)
	ConfirmReturn(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error)
	GetLoan(ctx context.Context, p auth.Principal, loanID int) (model.LoanView, error)
	ListLoans(ctx context.Context, p auth.Principal, status model.LoanStatus, page, size int) ([]model.Loan, error)
	SweepExpired(ctx context.Context) (int, error)

	// payment reconciliation
	CreateInvoice(ctx context.Context, p auth.Principal, loanID int) (model.InvoiceResponse, error)
	ProcessWebhook(ctx context.Context, payload model.WebhookPayload) error
	VerifyPayment(ctx context.Context, p auth.Principal, loanID int, req model.VerifyPaymentRequest) (model.Loan, error)
	PaymentStatus(ctx context.Context, externalID string) (model.PaymentStatusResponse, error)
	ListPendingVerification(ctx context.Context, p auth.Principal) ([]model.Loan, error)

	// side surfaces
	CreateReview(ctx context.Context, p auth.Principal, loanID int, req model.CreateReviewRequest) (model.Review, error)
	ListBookReviews(ctx context.Context, bookID int) ([]model.Review, error)
	ListMessages(ctx context.Context, p auth.Principal) ([]model.Message, error)
	MarkMessageRead(ctx context.Context, p auth.Principal, id int) error
}

var _ LoanService = (*service.Service)(nil)
