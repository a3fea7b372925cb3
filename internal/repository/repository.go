package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/model"
)

type Repository interface {
	// books
	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	UpdateBook(ctx context.Context, id int, req model.CreateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, id int) error
	GetBook(ctx context.Context, id int) (model.Book, error)
	ListBooks(ctx context.Context, page, size int) ([]model.Book, error)
	BorrowedCount(ctx context.Context, bookID int) (int, error)
	BorrowedCounts(ctx context.Context, bookIDs []int) (map[int]int, error)

	// loans
	CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	GetLoan(ctx context.Context, id int) (model.Loan, error)
	ListLoansByUser(ctx context.Context, userID int) ([]model.Loan, error)
	ListLoans(ctx context.Context, status model.LoanStatus, page, size int) ([]model.Loan, error)
	UpdateLoanStatus(ctx context.Context, id int, from, to model.LoanStatus, set map[string]interface{}) (model.Loan, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]model.Loan, error)

	// payment reconciliation
	SetInvoice(ctx context.Context, loanID int, invoiceID, externalID string) (model.Loan, error)
	UpdateGatewayStatus(ctx context.Context, loanID int, from []model.GatewayStatus, to model.GatewayStatus) (model.Loan, error)
	VerifyPayment(ctx context.Context, loanID int, approve bool, verifierID int, note string) (model.Loan, error)
	ListPendingVerification(ctx context.Context) ([]model.Loan, error)

	// messages
	CreateMessage(ctx context.Context, msg model.Message) error
	ListMessages(ctx context.Context, receiverRole string, receiverID int) ([]model.Message, error)
	MarkMessageRead(ctx context.Context, id, receiverID int) error

	// reviews
	CreateReview(ctx context.Context, review model.Review) (model.Review, error)
	ListBookReviews(ctx context.Context, bookID int) ([]model.Review, error)

	// users
	GetUser(ctx context.Context, id int) (model.User, error)
	ListUsersByRole(ctx context.Context, roles ...string) ([]model.User, error)
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger

	hasVerificationFields bool
}

const (
	booksTableName    = `books`
	loansTableName    = `loans`
	messagesTableName = `messages`
	reviewsTableName  = `reviews`
	usersTableName    = `users`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	r := &repository{
		db:  db,
		log: log.Named("repo"),
	}

	// schema capability resolved once at startup: installations predating the
	// payment-verification step lack the verifier columns.
	const q = `
	select count(*) from information_schema.columns
	where table_name = 'loans'
	  and column_name in ('verified_by', 'verified_at', 'verification_note')`
	var n int
	if err := db.QueryRowContext(context.Background(), q).Scan(&n); err != nil {
		return nil, err
	}
	r.hasVerificationFields = n == 3
	if !r.hasVerificationFields {
		r.log.Warn("verification columns missing, payment verification degrades to paid flag only")
	}
	return r, nil
}
