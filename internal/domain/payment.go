package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MaxPaymentAmount is the sanity ceiling for a single payment, in the
// smallest currency unit.
const MaxPaymentAmount int64 = 100_000_000

// PaymentStatus is the closed set of payment intent states.
// pending -> success | failed; both outcomes are terminal.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// ParsePaymentStatus validates a stored status value.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentSuccess, PaymentFailed:
		return PaymentStatus(s), nil
	default:
		return "", fmt.Errorf("unknown payment status %q", s)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// PaymentMethod identifies how the factory pays.
type PaymentMethod string

const (
	MethodGateway      PaymentMethod = "gateway"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// ParsePaymentMethod validates a stored or requested method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodGateway, MethodBankTransfer:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// IntentPayload is what the payment buys once it succeeds.
type IntentPayload struct {
	PlanID   string          `json:"plan_id"`
	Interval BillingInterval `json:"interval"`
}

// PaymentIntent records one attempted payment.
type PaymentIntent struct {
	ID              string          `json:"id"`
	FactoryID       string          `json:"factoryId"`
	OrderRef        string          `json:"orderRef"`
	Amount          int64           `json:"amount"`
	Method          PaymentMethod   `json:"method"`
	TransferNote    string          `json:"transferNote,omitempty"`
	Status          PaymentStatus   `json:"status"`
	Payload         IntentPayload   `json:"payload"`
	GatewayResponse json.RawMessage `json:"-"` // audit copy of the confirmation, possibly sealed
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// NewPaymentIntent builds a pending intent with a fresh, time-ordered order
// reference. The amount must be positive and no larger than MaxPaymentAmount.
func NewPaymentIntent(factoryID string, amount int64, method PaymentMethod, planID string, interval BillingInterval, now time.Time) (*PaymentIntent, error) {
	if factoryID == "" {
		return nil, ErrBadRequest("factory is required")
	}
	if amount <= 0 || amount > MaxPaymentAmount {
		return nil, ErrBadRequest(fmt.Sprintf("amount must be between 1 and %d", MaxPaymentAmount))
	}
	if _, err := ParsePaymentMethod(string(method)); err != nil {
		return nil, ErrBadRequest(err.Error())
	}
	if _, err := ParseInterval(string(interval)); err != nil {
		return nil, ErrBadRequest(err.Error())
	}

	p := &PaymentIntent{
		ID:        uuid.New().String(),
		FactoryID: factoryID,
		OrderRef:  NewOrderRef(now),
		Amount:    amount,
		Method:    method,
		Status:    PaymentPending,
		Payload:   IntentPayload{PlanID: planID, Interval: interval},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if method == MethodBankTransfer {
		p.TransferNote = TransferNoteFor(p.OrderRef)
	}
	return p, nil
}

// NewOrderRef returns a ULID: lexically time-ordered and unique per call
// thanks to the monotonic entropy source.
func NewOrderRef(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// TransferNoteFor is the note a factory must put on a bank transfer so that an
// administrator can match it to its intent.
func TransferNoteFor(orderRef string) string {
	return "SUB " + orderRef
}

// CheckoutRequest is the input for a gateway checkout.
type CheckoutRequest struct {
	PlanID   string `json:"plan_id" validate:"required,uuid"`
	Interval string `json:"interval" validate:"required,oneof=monthly yearly"`
	Amount   int64  `json:"amount" validate:"required,gt=0,lte=100000000"`
}

// CheckoutResponse returns the URL to redirect the factory to.
type CheckoutResponse struct {
	PaymentURL string `json:"payment_url"`
	PaymentID  string `json:"payment_id"`
}

// BankTransferRequest is the input for a manual bank transfer submission.
type BankTransferRequest struct {
	PlanID   string `json:"plan_id" validate:"required,uuid"`
	Interval string `json:"interval" validate:"required,oneof=monthly yearly"`
	Amount   int64  `json:"amount" validate:"required,gt=0,lte=100000000"`
}

// BankAccount is where factories send manual transfers.
type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// BankTransferResponse tells the factory what to transfer and which note to use.
type BankTransferResponse struct {
	PaymentID    string      `json:"payment_id"`
	OrderRef     string      `json:"order_ref"`
	Amount       int64       `json:"amount"`
	TransferNote string      `json:"transfer_note"`
	BankAccount  BankAccount `json:"bank_account"`
}

// ReconcileRequest identifies the intent an administrator acts on.
type ReconcileRequest struct {
	PaymentID string `json:"payment_id" validate:"required,uuid"`
}

// ReconcileResponse reports the state after an admin action.
type ReconcileResponse struct {
	Payment         *PaymentIntent `json:"payment"`
	Subscription    *Subscription  `json:"subscription,omitempty"`
	AlreadyResolved bool           `json:"alreadyResolved"`
}

// PaymentDetail is the admin view of an intent including its audit payload.
type PaymentDetail struct {
	*PaymentIntent
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
}
