package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/model"
)

// SetInvoice records a freshly created gateway invoice. Guarded so that only
// one live invoice can ever be attached: the update lands only when no invoice
// is recorded yet or the previous one reached a dead gateway state.
func (r *repository) SetInvoice(ctx context.Context, loanID int, invoiceID, externalID string) (model.Loan, error) {
	q, args, err := qb.Update(loansTableName).
		Set("invoice_id", invoiceID).
		Set("external_id", externalID).
		Set("gateway_status", model.GatewayPending).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": loanID, "fine_paid": false}).
		Where(sq.Or{
			sq.Eq{"invoice_id": nil},
			sq.Eq{"gateway_status": []model.GatewayStatus{model.GatewayRejected, model.GatewayExpired, model.GatewayFailed}},
		}).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, r.loanGuardMiss(ctx, loanID)
		}
		r.log.Error("SetInvoice", zap.String("q", q), zap.Any("args", args))
		return model.Loan{}, err
	}
	return loan, nil
}

// UpdateGatewayStatus moves the payment sub-state, guarded on the set of
// states the transition is valid from. Used by webhook ingestion; re-applying
// the same webhook finds the guard already consumed and reports ErrWrongState,
// which the service layer treats as an idempotent no-op.
func (r *repository) UpdateGatewayStatus(ctx context.Context, loanID int, from []model.GatewayStatus, to model.GatewayStatus) (model.Loan, error) {
	q, args, err := qb.Update(loansTableName).
		Set("gateway_status", to).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": loanID, "gateway_status": from}).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, r.loanGuardMiss(ctx, loanID)
		}
		r.log.Error("UpdateGatewayStatus", zap.String("q", q), zap.Any("args", args))
		return model.Loan{}, err
	}
	return loan, nil
}

// VerifyPayment records the staff decision. Valid only while the gateway
// reports provisional payment (or legacy paid) and the fine is still unpaid,
// so re-invoking after approval is a guard violation. Verifier metadata is
// written only when the schema carries the columns.
func (r *repository) VerifyPayment(ctx context.Context, loanID int, approve bool, verifierID int, note string) (model.Loan, error) {
	to := model.GatewayRejected
	b := qb.Update(loansTableName).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{
			"id":             loanID,
			"fine_paid":      false,
			"gateway_status": []model.GatewayStatus{model.GatewayPendingVerification, model.GatewayPaid},
		}).
		Suffix("returning *")
	if approve {
		to = model.GatewayPaid
		b = b.Set("fine_paid", true)
	}
	b = b.Set("gateway_status", to)
	if r.hasVerificationFields {
		b = b.Set("verified_by", verifierID).
			Set("verified_at", sq.Expr("now()")).
			Set("verification_note", note)
	} else {
		r.log.Warn("verification metadata skipped, columns unavailable",
			zap.Int("loan_id", loanID), zap.Int("verifier_id", verifierID))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.db.GetContext(ctx, &loan, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, r.loanGuardMiss(ctx, loanID)
		}
		r.log.Error("VerifyPayment", zap.String("q", q), zap.Any("args", args))
		return model.Loan{}, err
	}
	return loan, nil
}

func (r *repository) ListPendingVerification(ctx context.Context) ([]model.Loan, error) {
	q, args, err := qb.Select("*").
		From(loansTableName).
		Where(sq.Eq{
			"fine_paid":      false,
			"gateway_status": []model.GatewayStatus{model.GatewayPendingVerification, model.GatewayPaid},
		}).
		OrderBy("updated_at").
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
