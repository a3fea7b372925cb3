package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/gateway"
	"github.com/libtrack/loan-service/internal/repository"
)

// Service implements the borrowing lifecycle: loan state machine, derived
// availability, fine accounting and payment reconciliation. It is stateless;
// all guard-check-then-mutate sequences rely on the repository's conditional
// updates.
type Service struct {
	log      *zap.Logger
	repo     repository.Repository
	gw       gateway.Client
	notifier *Notifier

	// injectable clock
	now func() time.Time

	// pending loans older than this are swept into rejected
	pendingTTL time.Duration
}

type Option func(*Service)

func WithPendingTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

func NewService(repo repository.Repository, gw gateway.Client, notifier *Notifier, log *zap.Logger, ops ...Option) *Service {
	s := &Service{
		log:        log,
		repo:       repo,
		gw:         gw,
		notifier:   notifier,
		now:        time.Now,
		pendingTTL: time.Hour,
	}
	for _, op := range ops {
		op(s)
	}
	return s
}
