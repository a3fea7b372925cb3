package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

const expiredNote = "automatically cancelled: request not processed within the pickup window"

// SweepExpired force-rejects pending loans older than the grace window.
// Safe to re-run and to race with staff rejection: each rejection goes through
// the same guarded transition, so whichever commits first wins and the loser's
// guard miss is skipped over.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, s.now().Add(-s.pendingTTL))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, loan := range stale {
		rejected, err := s.repo.UpdateLoanStatus(ctx, loan.ID, model.LoanPending, model.LoanRejected,
			map[string]interface{}{"notes": expiredNote})
		if err != nil {
			if errors.Is(err, errs.ErrWrongState) || errors.Is(err, errs.ErrNotFound) {
				// lost the race to a user-initiated transition
				continue
			}
			return swept, err
		}
		swept++

		ev := s.borrowerEvent(ctx, rejected, model.EventLoanExpired,
			auth.Principal{Role: model.SenderSystem}, "Your loan request expired and was automatically cancelled.")
		s.notifier.Dispatch(ctx, ev)
	}
	if swept > 0 {
		s.log.Info("expiry sweep", zap.Int("rejected", swept))
	}
	return swept, nil
}

// RunSweeper drives periodic sweeps until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}
