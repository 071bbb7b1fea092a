package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/pkg/payment"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// CheckoutService starts payments: gateway checkouts and bank transfers.
type CheckoutService struct {
	plans    repository.PlanStore
	ledger   *Ledger
	gateway  payment.PaymentGateway
	bank     domain.BankAccount
	validate *validator.Validate
	log      *zerolog.Logger
	now      func() time.Time
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(
	plans repository.PlanStore,
	ledger *Ledger,
	gateway payment.PaymentGateway,
	bank domain.BankAccount,
	logger *zerolog.Logger,
) *CheckoutService {
	return &CheckoutService{
		plans:    plans,
		ledger:   ledger,
		gateway:  gateway,
		bank:     bank,
		validate: validator.New(),
		log:      logger,
		now:      time.Now,
	}
}

// CreateCheckout creates a pending gateway intent and the signed URL that
// sends the factory to the gateway. It never touches subscriptions.
func (s *CheckoutService) CreateCheckout(ctx context.Context, factoryID, clientIP string, req *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	plan, interval, err := s.price(ctx, req.PlanID, req.Interval, req.Amount, req)
	if err != nil {
		return nil, err
	}

	intent, err := s.ledger.Create(ctx, factoryID, req.Amount, domain.MethodGateway, plan.ID, interval)
	if err != nil {
		return nil, err
	}

	paymentURL, err := s.gateway.CreatePaymentURL(payment.PaymentRequest{
		TxnRef:    intent.OrderRef,
		Amount:    intent.Amount,
		OrderInfo: fmt.Sprintf("Subscription %s %s %s", plan.Slug, interval, intent.OrderRef),
		ClientIP:  clientIP,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, domain.ErrInternal("failed to create payment link", err)
	}

	return &domain.CheckoutResponse{
		PaymentURL: paymentURL,
		PaymentID:  intent.ID,
	}, nil
}

// SubmitBankTransfer records a pending bank transfer. Only an administrator
// can later mark it successful.
func (s *CheckoutService) SubmitBankTransfer(ctx context.Context, factoryID string, req *domain.BankTransferRequest) (*domain.BankTransferResponse, error) {
	plan, interval, err := s.price(ctx, req.PlanID, req.Interval, req.Amount, req)
	if err != nil {
		return nil, err
	}

	intent, err := s.ledger.Create(ctx, factoryID, req.Amount, domain.MethodBankTransfer, plan.ID, interval)
	if err != nil {
		return nil, err
	}

	return &domain.BankTransferResponse{
		PaymentID:    intent.ID,
		OrderRef:     intent.OrderRef,
		Amount:       intent.Amount,
		TransferNote: intent.TransferNote,
		BankAccount:  s.bank,
	}, nil
}

// price validates the request and checks the amount against the plan's own
// price for the interval.
func (s *CheckoutService) price(ctx context.Context, planID, rawInterval string, amount int64, req any) (*domain.Plan, domain.BillingInterval, error) {
	if err := s.validate.Struct(req); err != nil {
		metrics.IncCheckoutRejected("invalid")
		return nil, "", domain.ErrBadRequest(formatValidationErrors(err))
	}
	interval, err := domain.ParseInterval(rawInterval)
	if err != nil {
		return nil, "", domain.ErrBadRequest(err.Error())
	}

	plan, err := s.plans.FindPlan(ctx, planID)
	if err != nil {
		return nil, "", domain.ErrInternal("failed to load plan", err)
	}
	if plan == nil {
		metrics.IncCheckoutRejected("invalid")
		return nil, "", domain.ErrBadRequest("unknown plan")
	}

	want := plan.Price(interval)
	if want <= 0 {
		metrics.IncCheckoutRejected("invalid")
		return nil, "", domain.ErrBadRequest("plan is not available for purchase")
	}
	if amount != want {
		metrics.IncCheckoutRejected("price_mismatch")
		s.log.Warn().
			Str("plan", plan.Slug).
			Str("interval", string(interval)).
			Int64("amount", amount).
			Int64("price", want).
			Msg("checkout amount does not match plan price")
		return nil, "", domain.ErrBadRequest(fmt.Sprintf("amount must be %d for the %s %s plan", want, plan.Slug, interval))
	}
	return plan, interval, nil
}

func formatValidationErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
