package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

// available derives the free-copy count from stock and the loans presently
// out. Stock is never decremented in place; the count is recomputed on every
// read so a cached counter cannot drift. A failed count lookup fails safe:
// zero availability, so no loan can over-commit a copy.
func (s *Service) available(ctx context.Context, book model.Book) int {
	cnt, err := s.repo.BorrowedCount(ctx, book.ID)
	if err != nil {
		s.log.Error("borrowed count lookup failed, treating availability as 0",
			zap.Int("book_id", book.ID), zap.Error(err))
		return 0
	}
	if avail := book.Stock - cnt; avail > 0 {
		return avail
	}
	return 0
}

func (s *Service) GetBook(ctx context.Context, id int) (model.BookAvailability, error) {
	book, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return model.BookAvailability{}, err
	}
	return model.BookAvailability{Book: book, Available: s.available(ctx, book)}, nil
}

// ListBooks resolves borrowed counts for the whole page in one grouped query.
func (s *Service) ListBooks(ctx context.Context, page, size int) ([]model.BookAvailability, error) {
	books, err := s.repo.ListBooks(ctx, page, size)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	counts, err := s.repo.BorrowedCounts(ctx, ids)
	if err != nil {
		s.log.Error("borrowed counts lookup failed, treating availability as 0", zap.Error(err))
		counts = nil
	}
	out := make([]model.BookAvailability, 0, len(books))
	for _, b := range books {
		avail := 0
		if counts != nil {
			if a := b.Stock - counts[b.ID]; a > 0 {
				avail = a
			}
		}
		out = append(out, model.BookAvailability{Book: b, Available: avail})
	}
	return out, nil
}

func (s *Service) CreateBook(ctx context.Context, p auth.Principal, req model.CreateBookRequest) (model.Book, error) {
	if !p.IsStaff() {
		return model.Book{}, errs.ErrForbidden
	}
	return s.repo.CreateBook(ctx, req)
}

func (s *Service) UpdateBook(ctx context.Context, p auth.Principal, id int, req model.CreateBookRequest) (model.Book, error) {
	if !p.IsStaff() {
		return model.Book{}, errs.ErrForbidden
	}
	return s.repo.UpdateBook(ctx, id, req)
}

func (s *Service) DeleteBook(ctx context.Context, p auth.Principal, id int) error {
	if !p.IsStaff() {
		return errs.ErrForbidden
	}
	return s.repo.DeleteBook(ctx, id)
}
