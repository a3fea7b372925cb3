package model

import (
	"time"
)

type LoanStatus string

const (
	LoanPending         LoanStatus = "pending"
	LoanApproved        LoanStatus = "approved"
	LoanBorrowed        LoanStatus = "borrowed"
	LoanReturnRequested LoanStatus = "return_requested"
	LoanReturned        LoanStatus = "returned"
	LoanRejected        LoanStatus = "rejected"
)

// NonTerminalStatuses are the statuses in which a loan still occupies a copy
// slot for its (borrower, book) pair.
var NonTerminalStatuses = []LoanStatus{LoanPending, LoanApproved, LoanBorrowed, LoanReturnRequested}

func (s LoanStatus) Terminal() bool {
	return s == LoanReturned || s == LoanRejected
}

type GatewayStatus string

const (
	GatewayPending             GatewayStatus = "pending"
	GatewayPendingVerification GatewayStatus = "pending_verification"
	GatewayPaid                GatewayStatus = "paid"
	GatewayExpired             GatewayStatus = "expired"
	GatewayFailed              GatewayStatus = "failed"
	GatewayRejected            GatewayStatus = "rejected"
)

type Book struct {
	ID            int       `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Genre         string    `json:"genre" db:"genre"`
	PublishedYear int       `json:"publishedYear" db:"published_year"`
	Stock         int       `json:"stock" db:"stock"`
	CreatedAt     time.Time `json:"-" db:"created_at"`
	UpdatedAt     time.Time `json:"-" db:"updated_at"`
}

// BookAvailability is a Book with its derived available-copy count. The count
// is never stored; it is recomputed from stock and active loans on every read.
type BookAvailability struct {
	Book
	Available int `json:"available"`
}

type Loan struct {
	ID            int        `json:"id" db:"id"`
	UserID        int        `json:"userId" db:"user_id"`
	BookID        int        `json:"bookId" db:"book_id"`
	Status        LoanStatus `json:"status" db:"status"`
	RequestedDays int        `json:"requestedDays" db:"requested_days"`
	BorrowDate    time.Time  `json:"borrowDate" db:"borrow_date"`
	DueDate       time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate    *time.Time `json:"returnDate,omitempty" db:"return_date"`

	FineAmount int64 `json:"fineAmount" db:"fine_amount"`
	FineDays   int   `json:"fineDays" db:"fine_days"`
	FinePaid   bool  `json:"finePaid" db:"fine_paid"`

	InvoiceID        *string        `json:"invoiceId,omitempty" db:"invoice_id"`
	ExternalID       *string        `json:"externalId,omitempty" db:"external_id"`
	GatewayStatus    *GatewayStatus `json:"gatewayStatus,omitempty" db:"gateway_status"`
	VerifiedBy       *int           `json:"verifiedBy,omitempty" db:"verified_by"`
	VerifiedAt       *time.Time     `json:"verifiedAt,omitempty" db:"verified_at"`
	VerificationNote *string        `json:"verificationNote,omitempty" db:"verification_note"`

	Notes     string    `json:"notes" db:"notes"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// LoanView is a Loan plus the non-authoritative fine preview for loans still
// out. The preview uses "now" as a stand-in return date; the frozen values on
// the Loan remain the contract once returned.
type LoanView struct {
	Loan
	FinePreview     int64 `json:"finePreview"`
	FineDaysPreview int   `json:"fineDaysPreview"`
}

type User struct {
	ID       int    `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Role     string `json:"role" db:"role"`
	Email    string `json:"email" db:"email"`
}

type Message struct {
	ID           int       `json:"id" db:"id"`
	SenderRole   string    `json:"senderRole" db:"sender_role"`
	SenderID     int       `json:"senderId" db:"sender_id"`
	ReceiverRole string    `json:"receiverRole" db:"receiver_role"`
	ReceiverID   int       `json:"receiverId" db:"receiver_id"`
	LoanID       *int      `json:"loanId,omitempty" db:"loan_id"`
	Text         string    `json:"text" db:"text"`
	Type         string    `json:"type" db:"type"`
	IsRead       bool      `json:"isRead" db:"is_read"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

type Review struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"userId" db:"user_id"`
	BookID    int       `json:"bookId" db:"book_id"`
	LoanID    int       `json:"loanId" db:"loan_id"`
	Rating    int       `json:"rating" db:"rating"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

const (
	SenderSystem = "system"

	EventLoanRequested    = "loan_requested"
	EventLoanApproved     = "loan_approved"
	EventLoanRejected     = "loan_rejected"
	EventLoanExpired      = "loan_expired"
	EventLoanPickedUp     = "loan_picked_up"
	EventReturnRequested  = "return_requested"
	EventLoanReturned     = "loan_returned"
	EventInvoiceCreated   = "invoice_created"
	EventPaymentReceived  = "payment_received"
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentRejected  = "payment_rejected"
)

// Event is a post-commit notification produced by a state transition. The
// transition itself never writes messages; events are handed to the notifier
// after the primary commit so a side-channel fault cannot fail the transition.
type Event struct {
	Type         string `json:"type"`
	SenderRole   string `json:"senderRole"`
	SenderID     int    `json:"senderId"`
	ReceiverRole string `json:"receiverRole"`
	// ReceiverID 0 with a staff ReceiverRole means fan-out to every staff member.
	ReceiverID int    `json:"receiverId"`
	LoanID     int    `json:"loanId"`
	Text       string `json:"text"`
	// Email, when set, additionally sends the text over SMTP.
	Email string `json:"-"`
}

type CreateBookRequest struct {
	Title         string `json:"title" validate:"required"`
	Author        string `json:"author" validate:"required"`
	Genre         string `json:"genre"`
	PublishedYear int    `json:"publishedYear"`
	Stock         int    `json:"stock" validate:"min=0"`
}

type CreateLoanRequest struct {
	BookID int `json:"bookId" validate:"required"`
	Days   int `json:"days" validate:"required,min=14,max=30"`
}

type RejectLoanRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type VerifyPaymentRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note"`
}

type CreateReviewRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Text   string `json:"text"`
}

// WebhookPayload is the gateway's asynchronous payment notification.
type WebhookPayload struct {
	InvoiceID  string `json:"invoiceId" validate:"required"`
	ExternalID string `json:"externalId" validate:"required"`
	Status     string `json:"status" validate:"required"`
}

// PaymentStatusResponse reflects the authoritative local record for a polling
// client; it never re-queries the gateway.
type PaymentStatusResponse struct {
	LoanID        int            `json:"loanId"`
	InvoiceID     string         `json:"invoiceId"`
	ExternalID    string         `json:"externalId"`
	GatewayStatus *GatewayStatus `json:"gatewayStatus"`
	FineAmount    int64          `json:"fineAmount"`
	FinePaid      bool           `json:"finePaid"`
}

type InvoiceResponse struct {
	LoanID      int    `json:"loanId"`
	InvoiceID   string `json:"invoiceId"`
	ExternalID  string `json:"externalId"`
	Amount      int64  `json:"amount"`
	CheckoutURL string `json:"checkoutUrl,omitempty"`
}
