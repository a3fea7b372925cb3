package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/gateway"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

var (
	alice = auth.Principal{UserID: 1, Username: "alice", Role: auth.RoleUser}
	carol = auth.Principal{UserID: 4, Username: "carol", Role: auth.RoleUser}
	bob   = auth.Principal{UserID: 2, Username: "bob", Role: auth.RoleStaff}
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeRepo is an in-memory stand-in that mirrors the real repository's guarded
// updates, so conflict and idempotency behavior can be exercised without a
// database.
type fakeRepo struct {
	books    map[int]model.Book
	loans    map[int]model.Loan
	users    map[int]model.User
	messages []model.Message
	reviews  []model.Review

	nextLoanID   int
	nextReviewID int

	borrowedCountErr error
	verification     bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		books: map[int]model.Book{
			1: {ID: 1, Title: "The Go Programming Language", Author: "Donovan, Kernighan", Stock: 2},
		},
		loans: map[int]model.Loan{},
		users: map[int]model.User{
			1: {ID: 1, Username: "alice", Role: auth.RoleUser, Email: "alice@example.com"},
			2: {ID: 2, Username: "bob", Role: auth.RoleStaff, Email: "bob@example.com"},
			3: {ID: 3, Username: "root", Role: auth.RoleAdmin},
			4: {ID: 4, Username: "carol", Role: auth.RoleUser},
		},
		nextLoanID:   1,
		nextReviewID: 1,
		verification: true,
	}
}

func (f *fakeRepo) addLoan(loan model.Loan) model.Loan {
	if loan.ID == 0 {
		loan.ID = f.nextLoanID
		f.nextLoanID++
	} else if loan.ID >= f.nextLoanID {
		f.nextLoanID = loan.ID + 1
	}
	f.loans[loan.ID] = loan
	return loan
}

func (f *fakeRepo) CreateBook(_ context.Context, req model.CreateBookRequest) (model.Book, error) {
	id := len(f.books) + 1
	book := model.Book{ID: id, Title: req.Title, Author: req.Author, Genre: req.Genre, PublishedYear: req.PublishedYear, Stock: req.Stock}
	f.books[id] = book
	return book, nil
}

func (f *fakeRepo) UpdateBook(_ context.Context, id int, req model.CreateBookRequest) (model.Book, error) {
	book, ok := f.books[id]
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	book.Title, book.Author, book.Genre, book.PublishedYear, book.Stock = req.Title, req.Author, req.Genre, req.PublishedYear, req.Stock
	f.books[id] = book
	return book, nil
}

func (f *fakeRepo) DeleteBook(_ context.Context, id int) error {
	if _, ok := f.books[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.books, id)
	return nil
}

func (f *fakeRepo) GetBook(_ context.Context, id int) (model.Book, error) {
	book, ok := f.books[id]
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	return book, nil
}

func (f *fakeRepo) ListBooks(_ context.Context, _, _ int) ([]model.Book, error) {
	ids := make([]int, 0, len(f.books))
	for id := range f.books {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]model.Book, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.books[id])
	}
	return out, nil
}

func (f *fakeRepo) BorrowedCount(_ context.Context, bookID int) (int, error) {
	if f.borrowedCountErr != nil {
		return 0, f.borrowedCountErr
	}
	cnt := 0
	for _, loan := range f.loans {
		if loan.BookID == bookID && loan.Status == model.LoanBorrowed {
			cnt++
		}
	}
	return cnt, nil
}

func (f *fakeRepo) BorrowedCounts(ctx context.Context, bookIDs []int) (map[int]int, error) {
	if f.borrowedCountErr != nil {
		return nil, f.borrowedCountErr
	}
	counts := make(map[int]int, len(bookIDs))
	for _, id := range bookIDs {
		cnt, _ := f.BorrowedCount(ctx, id)
		if cnt > 0 {
			counts[id] = cnt
		}
	}
	return counts, nil
}

func (f *fakeRepo) CreateLoan(_ context.Context, loan model.Loan) (model.Loan, error) {
	for _, existing := range f.loans {
		if existing.UserID == loan.UserID && existing.BookID == loan.BookID && !existing.Status.Terminal() {
			return model.Loan{}, errs.ErrDuplicateLoan
		}
	}
	loan.CreatedAt = loan.BorrowDate
	loan.UpdatedAt = loan.BorrowDate
	return f.addLoan(loan), nil
}

func (f *fakeRepo) GetLoan(_ context.Context, id int) (model.Loan, error) {
	loan, ok := f.loans[id]
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	return loan, nil
}

func (f *fakeRepo) ListLoansByUser(_ context.Context, userID int) ([]model.Loan, error) {
	var out []model.Loan
	for _, loan := range f.loans {
		if loan.UserID == userID {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) ListLoans(_ context.Context, status model.LoanStatus, _, _ int) ([]model.Loan, error) {
	var out []model.Loan
	for _, loan := range f.loans {
		if status == "" || loan.Status == status {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) UpdateLoanStatus(_ context.Context, id int, from, to model.LoanStatus, set map[string]interface{}) (model.Loan, error) {
	loan, ok := f.loans[id]
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	if loan.Status != from {
		return model.Loan{}, errs.ErrWrongState
	}
	loan.Status = to
	for col, v := range set {
		switch col {
		case "notes":
			loan.Notes = v.(string)
		case "borrow_date":
			loan.BorrowDate = v.(time.Time)
		case "due_date":
			loan.DueDate = v.(time.Time)
		case "return_date":
			t := v.(time.Time)
			loan.ReturnDate = &t
		case "fine_days":
			loan.FineDays = v.(int)
		case "fine_amount":
			loan.FineAmount = v.(int64)
		default:
			panic(fmt.Sprintf("fakeRepo: unexpected column %q", col))
		}
	}
	f.loans[id] = loan
	return loan, nil
}

func (f *fakeRepo) ListStalePending(_ context.Context, olderThan time.Time) ([]model.Loan, error) {
	var out []model.Loan
	for _, loan := range f.loans {
		if loan.Status == model.LoanPending && loan.CreatedAt.Before(olderThan) {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) SetInvoice(_ context.Context, loanID int, invoiceID, externalID string) (model.Loan, error) {
	loan, ok := f.loans[loanID]
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	if loan.FinePaid || (loan.InvoiceID != nil && !gatewayDead(loan.GatewayStatus)) {
		return model.Loan{}, errs.ErrWrongState
	}
	status := model.GatewayPending
	loan.InvoiceID = &invoiceID
	loan.ExternalID = &externalID
	loan.GatewayStatus = &status
	f.loans[loanID] = loan
	return loan, nil
}

func (f *fakeRepo) UpdateGatewayStatus(_ context.Context, loanID int, from []model.GatewayStatus, to model.GatewayStatus) (model.Loan, error) {
	loan, ok := f.loans[loanID]
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	ok = false
	for _, s := range from {
		if loan.GatewayStatus != nil && *loan.GatewayStatus == s {
			ok = true
			break
		}
	}
	if !ok {
		return model.Loan{}, errs.ErrWrongState
	}
	loan.GatewayStatus = &to
	f.loans[loanID] = loan
	return loan, nil
}

func (f *fakeRepo) VerifyPayment(_ context.Context, loanID int, approve bool, verifierID int, note string) (model.Loan, error) {
	loan, ok := f.loans[loanID]
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	verifiable := loan.GatewayStatus != nil &&
		(*loan.GatewayStatus == model.GatewayPendingVerification || *loan.GatewayStatus == model.GatewayPaid)
	if loan.FinePaid || !verifiable {
		return model.Loan{}, errs.ErrWrongState
	}
	to := model.GatewayRejected
	if approve {
		to = model.GatewayPaid
		loan.FinePaid = true
	}
	loan.GatewayStatus = &to
	if f.verification {
		now := time.Now()
		loan.VerifiedBy = &verifierID
		loan.VerifiedAt = &now
		loan.VerificationNote = &note
	}
	f.loans[loanID] = loan
	return loan, nil
}

func (f *fakeRepo) ListPendingVerification(_ context.Context) ([]model.Loan, error) {
	var out []model.Loan
	for _, loan := range f.loans {
		if loan.FinePaid || loan.GatewayStatus == nil {
			continue
		}
		if *loan.GatewayStatus == model.GatewayPendingVerification || *loan.GatewayStatus == model.GatewayPaid {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, msg model.Message) error {
	msg.ID = len(f.messages) + 1
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeRepo) ListMessages(_ context.Context, receiverRole string, receiverID int) ([]model.Message, error) {
	var out []model.Message
	for _, msg := range f.messages {
		if msg.ReceiverRole == receiverRole && msg.ReceiverID == receiverID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkMessageRead(_ context.Context, id, receiverID int) error {
	for i, msg := range f.messages {
		if msg.ID == id && msg.ReceiverID == receiverID {
			f.messages[i].IsRead = true
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeRepo) CreateReview(_ context.Context, review model.Review) (model.Review, error) {
	for _, existing := range f.reviews {
		if existing.UserID == review.UserID && existing.BookID == review.BookID && existing.LoanID == review.LoanID {
			return model.Review{}, errs.ErrDuplicateReview
		}
	}
	review.ID = f.nextReviewID
	f.nextReviewID++
	f.reviews = append(f.reviews, review)
	return review, nil
}

func (f *fakeRepo) ListBookReviews(_ context.Context, bookID int) ([]model.Review, error) {
	var out []model.Review
	for _, review := range f.reviews {
		if review.BookID == bookID {
			out = append(out, review)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetUser(_ context.Context, id int) (model.User, error) {
	user, ok := f.users[id]
	if !ok {
		return model.User{}, errs.ErrNotFound
	}
	return user, nil
}

func (f *fakeRepo) ListUsersByRole(_ context.Context, roles ...string) ([]model.User, error) {
	var out []model.User
	for _, user := range f.users {
		for _, role := range roles {
			if user.Role == role {
				out = append(out, user)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// messagesOfType counts recorded notifications, which the lifecycle tests use
// to assert a transition notified exactly once.
func (f *fakeRepo) messagesOfType(msgType string) []model.Message {
	var out []model.Message
	for _, msg := range f.messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

type fakeGateway struct {
	calls int
	err   error
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req gateway.CreateInvoiceRequest) (gateway.Invoice, error) {
	g.calls++
	if g.err != nil {
		return gateway.Invoice{}, g.err
	}
	return gateway.Invoice{
		InvoiceID:   fmt.Sprintf("inv-%d", g.calls),
		ExternalID:  req.ExternalID,
		Status:      "PENDING",
		CheckoutURL: "https://pay.example.com/checkout/" + req.ExternalID,
	}, nil
}

func (g *fakeGateway) GetInvoiceStatus(_ context.Context, _ string) (string, error) {
	return "PENDING", nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeGateway, *testClock) {
	t.Helper()
	repo := newFakeRepo()
	gw := &fakeGateway{}
	log := zap.NewNop()
	clk := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(repo, gw, NewNotifier(repo, nil, nil, log), log)
	svc.now = clk.now
	return svc, repo, gw, clk
}
