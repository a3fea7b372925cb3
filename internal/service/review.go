package service

import (
	"context"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

// CreateReview accepts a rating from the borrower of a returned loan. One
// review per (borrower, book, loan); only a loan that actually reached
// returned qualifies.
func (s *Service) CreateReview(ctx context.Context, p auth.Principal, loanID int, req model.CreateReviewRequest) (model.Review, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.Review{}, err
	}
	if loan.UserID != p.UserID {
		return model.Review{}, errs.ErrForbidden
	}
	if loan.Status != model.LoanReturned {
		return model.Review{}, errs.ErrWrongState
	}
	return s.repo.CreateReview(ctx, model.Review{
		UserID: p.UserID,
		BookID: loan.BookID,
		LoanID: loan.ID,
		Rating: req.Rating,
		Text:   req.Text,
	})
}

func (s *Service) ListBookReviews(ctx context.Context, bookID int) ([]model.Review, error) {
	if _, err := s.repo.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.repo.ListBookReviews(ctx, bookID)
}

func (s *Service) ListMessages(ctx context.Context, p auth.Principal) ([]model.Message, error) {
	return s.repo.ListMessages(ctx, p.Role, p.UserID)
}

func (s *Service) MarkMessageRead(ctx context.Context, p auth.Principal, id int) error {
	return s.repo.MarkMessageRead(ctx, id, p.UserID)
}
