package repository

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
)

// CreateLoan inserts a new pending loan. The partial unique index on
// (user_id, book_id) over non-terminal statuses makes concurrent
// double-submission lose with a unique violation rather than creating a
// duplicate active loan.
func (r *repository) CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	q, args, err := qb.Insert(loansTableName).
		Columns("user_id", "book_id", "status", "requested_days", "borrow_date", "due_date", "notes").
		Values(loan.UserID, loan.BookID, loan.Status, loan.RequestedDays, loan.BorrowDate, loan.DueDate, loan.Notes).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var created model.Loan
	if err := r.db.GetContext(ctx, &created, q, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.Loan{}, errs.ErrDuplicateLoan
		}
		r.log.Error("CreateLoan", zap.String("q", q), zap.Any("args", args))
		return model.Loan{}, err
	}
	return created, nil
}

func (r *repository) GetLoan(ctx context.Context, id int) (model.Loan, error) {
	q, args, err := qb.Select("*").
		From(loansTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, errs.ErrNotFound
		}
		return model.Loan{}, err
	}
	return loan, nil
}

func (r *repository) ListLoansByUser(ctx context.Context, userID int) ([]model.Loan, error) {
	q, args, err := qb.Select("*").
		From(loansTableName).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at desc").
		ToSql()
	if err != nil {
		return nil, err
	}
	var loans []model.Loan
	if err := r.db.SelectContext(ctx, &loans, q, args...); err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *repository) ListLoans(ctx context.Context, status model.LoanStatus, page, size int) ([]model.Loan, error) {
	b := qb.Select("*").
		From(loansTableName).
		OrderBy("created_at desc")
	if status != "" {
		b = b.Where(sq.Eq{"status": status})
	}
	if page != 0 && size != 0 {
		b = b.Limit(uint64(size)).Offset(uint64((page - 1) * size))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var loans []model.Loan
	if err := r.db.SelectContext(ctx, &loans, q, args...); err != nil {
		return nil, err
	}
	return loans, nil
}

// UpdateLoanStatus applies a guarded transition: the update only lands when
// the row is still in the expected from-status, so two conflicting transitions
// cannot both succeed. A guard miss is reported as ErrWrongState (row exists)
// or ErrNotFound.
func (r *repository) UpdateLoanStatus(ctx context.Context, id int, from, to model.LoanStatus, set map[string]interface{}) (model.Loan, error) {
	b := qb.Update(loansTableName).
		Set("status", to).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "status": from}).
		Suffix("returning *")
	for col, v := range set {
		b = b.Set(col, v)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, r.loanGuardMiss(ctx, id)
		}
		r.log.Error("UpdateLoanStatus", zap.String("q", q), zap.Any("args", args))
		return model.Loan{}, err
	}
	return loan, nil
}

func (r *repository) ListStalePending(ctx context.Context, olderThan time.Time) ([]model.Loan, error) {
	q, args, err := qb.Select("*").
		From(loansTableName).
		Where(sq.Eq{"status": model.LoanPending}).
		Where(sq.Lt{"created_at": olderThan}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	var loans []model.Loan
	if err := r.db.SelectContext(ctx, &loans, q, args...); err != nil {
		return nil, err
	}
	return loans, nil
}

// loanGuardMiss distinguishes a wrong-state conflict from a missing row after
// a guarded update matched nothing.
func (r *repository) loanGuardMiss(ctx context.Context, id int) error {
	if _, err := r.GetLoan(ctx, id); err != nil {
		return err
	}
	return errs.ErrWrongState
}
