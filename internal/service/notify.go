package service

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/internal/repository"
	"github.com/libtrack/loan-service/pkg/auth"
	"github.com/libtrack/loan-service/pkg/email"
	"github.com/libtrack/loan-service/pkg/kafka"
)

// Notifier is the fire-and-forget side channel for loan and payment
// transitions. It runs after the primary transition has committed; every
// failure here is logged and swallowed, never surfaced, so a notification
// fault cannot roll back or fail the transition that produced it.
type Notifier struct {
	log      *zap.Logger
	repo     repository.Repository
	producer sarama.SyncProducer // nil when kafka is not configured
	mailer   *email.Sender       // nil when smtp is not configured
}

func NewNotifier(repo repository.Repository, producer sarama.SyncProducer, mailer *email.Sender, log *zap.Logger) *Notifier {
	return &Notifier{
		log:      log.Named("notifier"),
		repo:     repo,
		producer: producer,
		mailer:   mailer,
	}
}

func (n *Notifier) Dispatch(ctx context.Context, events []model.Event) {
	for _, ev := range events {
		n.record(ctx, ev)
		n.publish(ev)
		n.mail(ev)
	}
}

// record writes one message per recipient; a staff-addressed event with no
// explicit receiver fans out to every staff and admin account.
func (n *Notifier) record(ctx context.Context, ev model.Event) {
	receivers := []model.User{{ID: ev.ReceiverID, Role: ev.ReceiverRole}}
	if ev.ReceiverRole == auth.RoleStaff && ev.ReceiverID == 0 {
		staff, err := n.repo.ListUsersByRole(ctx, auth.RoleStaff, auth.RoleAdmin)
		if err != nil {
			n.log.Warn("staff fan-out failed", zap.String("type", ev.Type), zap.Error(err))
			return
		}
		receivers = staff
	}
	for _, rcv := range receivers {
		msg := model.Message{
			SenderRole:   ev.SenderRole,
			SenderID:     ev.SenderID,
			ReceiverRole: rcv.Role,
			ReceiverID:   rcv.ID,
			Text:         ev.Text,
			Type:         ev.Type,
		}
		if ev.LoanID != 0 {
			loanID := ev.LoanID
			msg.LoanID = &loanID
		}
		if err := n.repo.CreateMessage(ctx, msg); err != nil {
			n.log.Warn("notification write failed",
				zap.String("type", ev.Type), zap.Int("receiver_id", rcv.ID), zap.Error(err))
		}
	}
}

func (n *Notifier) publish(ev model.Event) {
	if n.producer == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("event marshal failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{Topic: kafka.LoanEventsTopic, Value: sarama.StringEncoder(data)}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		n.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (n *Notifier) mail(ev model.Event) {
	if n.mailer == nil || ev.Email == "" {
		return
	}
	if err := n.mailer.Send(ev.Email, "Library loan update", ev.Text); err != nil {
		n.log.Warn("notification mail failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
