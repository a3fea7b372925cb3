package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libtrack/loan-service/internal/errs"
	"github.com/libtrack/loan-service/internal/gateway"
	"github.com/libtrack/loan-service/internal/model"
	"github.com/libtrack/loan-service/pkg/auth"
)

// externalID builds the stable gateway correlation id. The loan id is parsed
// back out of it on webhook ingestion, so the format must not change.
func (s *Service) externalID(loanID int) string {
	return fmt.Sprintf("FINE-%d-%d", loanID, s.now().Unix())
}

// ParseExternalID extracts the loan id from a FINE-{loanId}-{timestamp} id.
func ParseExternalID(externalID string) (int, error) {
	parts := strings.Split(externalID, "-")
	if len(parts) != 3 || parts[0] != "FINE" {
		return 0, errs.ErrInvoiceMismatch
	}
	loanID, err := strconv.Atoi(parts[1])
	if err != nil || loanID <= 0 {
		return 0, errs.ErrInvoiceMismatch
	}
	return loanID, nil
}

// CreateInvoice opens a gateway invoice for a loan's outstanding fine.
// Idempotent per loan: while a live invoice exists the stored one is returned
// and no second invoice is created. Only a dead invoice (rejected, expired,
// failed) can be replaced by a fresh one.
func (s *Service) CreateInvoice(ctx context.Context, p auth.Principal, loanID int) (model.InvoiceResponse, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.InvoiceResponse{}, err
	}
	if loan.UserID != p.UserID && !p.IsStaff() {
		return model.InvoiceResponse{}, errs.ErrForbidden
	}
	if loan.FinePaid {
		return model.InvoiceResponse{}, errs.ErrWrongState
	}
	if loan.FineAmount <= 0 {
		return model.InvoiceResponse{}, errs.ErrNoFine
	}
	if loan.InvoiceID != nil && !gatewayDead(loan.GatewayStatus) {
		return invoiceResponse(loan), nil
	}

	payer, _ := s.repo.GetUser(ctx, loan.UserID)
	extID := s.externalID(loan.ID)
	inv, err := s.gw.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		ExternalID:  extID,
		Amount:      loan.FineAmount,
		PayerName:   payer.Username,
		PayerEmail:  payer.Email,
		Description: fmt.Sprintf("Late fine for loan #%d (%d day(s) late)", loan.ID, loan.FineDays),
	})
	if err != nil {
		// no partial invoice reference is persisted on failure
		return model.InvoiceResponse{}, errors.Wrap(errs.ErrGatewayUnavailable, err.Error())
	}

	stored, err := s.repo.SetInvoice(ctx, loan.ID, inv.InvoiceID, extID)
	if err != nil {
		if errors.Is(err, errs.ErrWrongState) {
			// concurrent creation won the guard; serve its invoice
			if current, gerr := s.repo.GetLoan(ctx, loan.ID); gerr == nil && current.InvoiceID != nil {
				return invoiceResponse(current), nil
			}
		}
		return model.InvoiceResponse{}, err
	}

	s.notifier.Dispatch(ctx, s.borrowerEvent(ctx, stored, model.EventInvoiceCreated, p,
		fmt.Sprintf("Invoice created for your fine of %d. Complete the payment at the checkout page.", loan.FineAmount)))

	return model.InvoiceResponse{
		LoanID:      stored.ID,
		InvoiceID:   inv.InvoiceID,
		ExternalID:  extID,
		Amount:      stored.FineAmount,
		CheckoutURL: inv.CheckoutURL,
	}, nil
}

// ProcessWebhook ingests the gateway's asynchronous payment notification.
// A PAID result never settles the fine directly; it parks the loan in
// pending_verification for a staff audit checkpoint. Delivery is assumed
// at-least-once: a repeated notification finds its guard already consumed and
// is absorbed without a second transition or duplicate notifications.
func (s *Service) ProcessWebhook(ctx context.Context, payload model.WebhookPayload) error {
	loanID, err := ParseExternalID(payload.ExternalID)
	if err != nil {
		return err
	}
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.InvoiceID == nil || *loan.InvoiceID != payload.InvoiceID {
		return errs.ErrInvoiceMismatch
	}
	if loan.ExternalID == nil || *loan.ExternalID != payload.ExternalID {
		return errs.ErrInvoiceMismatch
	}

	var to model.GatewayStatus
	switch strings.ToUpper(payload.Status) {
	case "PAID", "SETTLED":
		to = model.GatewayPendingVerification
	case "EXPIRED":
		to = model.GatewayExpired
	case "FAILED":
		to = model.GatewayFailed
	default:
		s.log.Warn("webhook with unknown status ignored",
			zap.String("status", payload.Status), zap.String("invoice_id", payload.InvoiceID))
		return nil
	}

	updated, err := s.repo.UpdateGatewayStatus(ctx, loanID, []model.GatewayStatus{model.GatewayPending}, to)
	if err != nil {
		if errors.Is(err, errs.ErrWrongState) && loan.GatewayStatus != nil && *loan.GatewayStatus == to {
			// redelivery of an already-applied notification
			return nil
		}
		return err
	}

	if to == model.GatewayPendingVerification {
		events := []model.Event{{
			Type:         model.EventPaymentReceived,
			SenderRole:   model.SenderSystem,
			ReceiverRole: auth.RoleStaff,
			LoanID:       updated.ID,
			Text:         fmt.Sprintf("Gateway reported payment for loan #%d; verification required", updated.ID),
		}}
		events = append(events, s.borrowerEvent(ctx, updated, model.EventPaymentReceived,
			auth.Principal{Role: model.SenderSystem},
			"Your payment was received and is awaiting staff verification.")...)
		s.notifier.Dispatch(ctx, events)
	}
	return nil
}

// VerifyPayment records the staff audit decision. Approval settles the fine;
// rejection leaves it unpaid and requires a fresh invoice to retry. Both are
// terminal for the invoice.
func (s *Service) VerifyPayment(ctx context.Context, p auth.Principal, loanID int, req model.VerifyPaymentRequest) (model.Loan, error) {
	if !p.IsStaff() {
		return model.Loan{}, errs.ErrForbidden
	}
	approve := req.Decision == "approve"
	loan, err := s.repo.VerifyPayment(ctx, loanID, approve, p.UserID, req.Note)
	if err != nil {
		return model.Loan{}, err
	}

	eventType := model.EventPaymentConfirmed
	text := "Your fine payment was verified. The fine is settled."
	if !approve {
		eventType = model.EventPaymentRejected
		text = "Your fine payment could not be verified. The fine remains unpaid; please create a new invoice."
	}
	s.notifier.Dispatch(ctx, s.borrowerEvent(ctx, loan, eventType, p, text))
	return loan, nil
}

// PaymentStatus serves the authoritative local record for polling clients;
// it never re-queries the gateway.
func (s *Service) PaymentStatus(ctx context.Context, externalID string) (model.PaymentStatusResponse, error) {
	loanID, err := ParseExternalID(externalID)
	if err != nil {
		return model.PaymentStatusResponse{}, err
	}
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return model.PaymentStatusResponse{}, err
	}
	if loan.InvoiceID == nil || loan.ExternalID == nil || *loan.ExternalID != externalID {
		return model.PaymentStatusResponse{}, errs.ErrNotFound
	}
	return model.PaymentStatusResponse{
		LoanID:        loan.ID,
		InvoiceID:     *loan.InvoiceID,
		ExternalID:    externalID,
		GatewayStatus: loan.GatewayStatus,
		FineAmount:    loan.FineAmount,
		FinePaid:      loan.FinePaid,
	}, nil
}

func (s *Service) ListPendingVerification(ctx context.Context, p auth.Principal) ([]model.Loan, error) {
	if !p.IsStaff() {
		return nil, errs.ErrForbidden
	}
	return s.repo.ListPendingVerification(ctx)
}

func gatewayDead(status *model.GatewayStatus) bool {
	if status == nil {
		return false
	}
	switch *status {
	case model.GatewayRejected, model.GatewayExpired, model.GatewayFailed:
		return true
	}
	return false
}

func invoiceResponse(loan model.Loan) model.InvoiceResponse {
	resp := model.InvoiceResponse{
		LoanID: loan.ID,
		Amount: loan.FineAmount,
	}
	if loan.InvoiceID != nil {
		resp.InvoiceID = *loan.InvoiceID
	}
	if loan.ExternalID != nil {
		resp.ExternalID = *loan.ExternalID
	}
	return resp
}
