package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
)

func (r *repository) CreateMessage(ctx context.Context, msg model.Message) error {
	q, args, err := qb.Insert(messagesTableName).
		Columns("sender_role", "sender_id", "receiver_role", "receiver_id", "loan_id", "text", "type").
		Values(msg.SenderRole, msg.SenderID, msg.ReceiverRole, msg.ReceiverID, msg.LoanID, msg.Text, msg.Type).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("CreateMessage", zap.String("q", q), zap.Any("args", args))
		return err
	}
	return nil
}

func (r *repository) ListMessages(ctx context.Context, receiverRole string, receiverID int) ([]model.Message, error) {
	q, args, err := qb.Select("*").
		From(messagesTableName).
		Where(sq.Eq{"receiver_role": receiverRole, "receiver_id": receiverID}).
		OrderBy("created_at desc").
		ToSql()
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if err := r.db.SelectContext(ctx, &msgs, q, args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *repository) MarkMessageRead(ctx context.Context, id, receiverID int) error {
	q, args, err := qb.Update(messagesTableName).
		Set("is_read", true).
		Where(sq.Eq{"id": id, "receiver_id": receiverID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
