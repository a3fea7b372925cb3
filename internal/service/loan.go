package service

import (
	"context"
	"fmt"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

const (
	minLoanDays = 14
	maxLoanDays = 30
)

// CreateLoan submits a borrow request. The due date written here is a
// placeholder; the clock starts on pickup, when borrow and due date are
// re-baselined together from the stored requested duration.
func (s *Service) CreateLoan(ctx context.Context, p auth.Principal, req model.CreateLoanRequest) (model.Loan, error) {
	if req.Days < minLoanDays || req.Days > maxLoanDays {
		return model.Loan{}, errs.ErrBadDuration
	}
	book, err := s.repo.GetBook(ctx, req.BookID)
	if err != nil {
		return model.Loan{}, err
	}
	if s.available(ctx, book) <= 0 {
		return model.Loan{}, errs.ErrNoCopies
	}

	now := s.now()
	loan, err := s.repo.CreateLoan(ctx, model.Loan{
		UserID:        p.UserID,
		BookID:        req.BookID,
		Status:        model.LoanPending,
		RequestedDays: req.Days,
		BorrowDate:    now,
		DueDate:       now.AddDate(0, 0, req.Days),
	})
	if err != nil {
		return model.Loan{}, err
	}

	s.notifier.Dispatch(ctx, []model.Event{{
		Type:         model.EventLoanRequested,
		SenderRole:   p.Role,
		SenderID:     p.UserID,
		ReceiverRole: auth.RoleStaff,
		LoanID:       loan.ID,
		Text:         fmt.Sprintf("%s requested %q for %d days", p.Username, book.Title, req.Days),
	}})
	return loan, nil
}

func (s *Service) ApproveLoan(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error) {
	if !p.IsStaff() {
		return model.Loan{}, errs.ErrForbidden
	}
	loan, err := s.repo.UpdateLoanStatus(ctx, loanID, model.LoanPending, model.LoanApproved, nil)
	if err != nil {
		return model.Loan{}, err
	}

	s.notifier.Dispatch(ctx, s.borrowerEvent(ctx, loan, model.EventLoanApproved, p,
		"Your loan request was approved. Pick the book up to start the borrowing period."))
	return loan, nil
}

// RejectLoan is the only path out of pending besides approval; rejection is
// not reachable from any later state.
func (s *Service) RejectLoan(ctx context.Context, p auth.Principal, loanID int, reason string) (model.Loan, error) {
	if !p.IsStaff() {
		return model.Loan{}, errs.ErrForbidden
	}
	loan, err := s.repo.UpdateLoanStatus(ctx, loanID, model.LoanPending, model.LoanRejected,
		map[string]interface{}{"notes": reason})
	if err != nil {
		return model.Loan{}, err
	}

	s.notifier.Dispatch(ctx, s.borrowerEvent(ctx, loan, model.EventLoanRejected, p,
		fmt.Sprintf("Your loan request was rejected: %s", reason)))
	return loan, nil
}

// PickupLoan re-baselines the borrowing clock: the due date is recomputed
// from today plus the originally requested duration, not from the placeholder
// set at request time.
func (s *Service) PickupLoan(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	if loan.UserID != p.UserID {
		return model.Loan{}, errs.ErrForbidden
	}

	today := s.now()
	loan, err = s.repo.UpdateLoanStatus(ctx, loanID, model.LoanApproved, model.LoanBorrowed,
		map[string]interface{}{
			"borrow_date": today,
			"due_date":    today.AddDate(0, 0, loan.RequestedDays),
		})
	if err != nil {
		return model.Loan{}, err
	}

	s.notifier.Dispatch(ctx, []model.Event{{
		Type:         model.EventLoanPickedUp,
		SenderRole:   p.Role,
		SenderID:     p.UserID,
		ReceiverRole: auth.RoleStaff,
		LoanID:       loan.ID,
		Text:         fmt.Sprintf("%s picked up loan #%d, due %s", p.Username, loan.ID, loan.DueDate.Format("2006-01-02")),
	}})
	return loan, nil
}

func (s *Service) RequestReturn(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	if loan.UserID != p.UserID {
		return model.Loan{}, errs.ErrForbidden
	}

	loan, err = s.repo.UpdateLoanStatus(ctx, loanID, model.LoanBorrowed, model.LoanReturnRequested, nil)
	if err != nil {
		return model.Loan{}, err
	}

	s.notifier.Dispatch(ctx, []model.Event{{
		Type:         model.EventReturnRequested,
		SenderRole:   p.Role,
		SenderID:     p.UserID,
		ReceiverRole: auth.RoleStaff,
		LoanID:       loan.ID,
		Text:         fmt.Sprintf("%s requested to return loan #%d", p.Username, loan.ID),
	}})
	return loan, nil
}

// ConfirmReturn closes the loan and freezes the authoritative fine from the
// due date and the confirmed return date.
func (s *Service) ConfirmReturn(ctx context.Context, p auth.Principal, loanID int) (model.Loan, error) {
	if !p.IsStaff() {
		return model.Loan{}, errs.ErrForbidden
	}
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}

	returnDate := s.now()
	lateDays := LateDays(loan.DueDate, returnDate)
	fine := Fine(lateDays)

	loan, err = s.repo.UpdateLoanStatus(ctx, loanID, model.LoanReturnRequested, model.LoanReturned,
		map[string]interface{}{
			"return_date": returnDate,
			"fine_days":   lateDays,
			"fine_amount": fine,
		})
	if err != nil {
		return model.Loan{}, err
	}

	text := "Return confirmed, no fine due. Thanks for returning on time."
	if fine > 0 {
		text = fmt.Sprintf("Return confirmed %d day(s) late. Fine due: %d.", lateDays, fine)
	}
	s.notifier.Dispatch(ctx, s.borrowerEvent(ctx, loan, model.EventLoanReturned, p, text))
	return loan, nil
}

// GetLoan returns the loan with a non-authoritative fine preview when the
// book is still out past due.
func (s *Service) GetLoan(ctx context.Context, p auth.Principal, loanID int) (model.LoanView, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.LoanView{}, err
	}
	if loan.UserID != p.UserID && !p.IsStaff() {
		return model.LoanView{}, errs.ErrForbidden
	}

	view := model.LoanView{Loan: loan, FinePreview: loan.FineAmount, FineDaysPreview: loan.FineDays}
	if loan.Status == model.LoanBorrowed || loan.Status == model.LoanReturnRequested {
		days := LateDays(loan.DueDate, s.now())
		view.FineDaysPreview = days
		view.FinePreview = Fine(days)
	}
	return view, nil
}

func (s *Service) ListLoans(ctx context.Context, p auth.Principal, status model.LoanStatus, page, size int) ([]model.Loan, error) {
	if p.IsStaff() {
		return s.repo.ListLoans(ctx, status, page, size)
	}
	return s.repo.ListLoansByUser(ctx, p.UserID)
}

// borrowerEvent builds the single event addressed to the loan's borrower,
// resolving the e-mail side channel when the user record has one.
func (s *Service) borrowerEvent(ctx context.Context, loan model.Loan, eventType string, sender auth.Principal, text string) []model.Event {
	ev := model.Event{
		Type:         eventType,
		SenderRole:   sender.Role,
		SenderID:     sender.UserID,
		ReceiverRole: auth.RoleUser,
		ReceiverID:   loan.UserID,
		LoanID:       loan.ID,
		Text:         text,
	}
	if user, err := s.repo.GetUser(ctx, loan.UserID); err == nil {
		ev.Email = user.Email
	}
	return []model.Event{ev}
}
