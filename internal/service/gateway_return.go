package service

import (
	"context"
	"errors"
	"net/url"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/pkg/payment"
	"github.com/rs/zerolog"
)

// ReturnOutcome is where the browser is sent after a gateway callback.
type ReturnOutcome string

const (
	ReturnSuccess  ReturnOutcome = "success"
	ReturnInvalid  ReturnOutcome = "invalid"
	ReturnNotFound ReturnOutcome = "notfound"
	ReturnFailed   ReturnOutcome = "failed"
)

// ReturnService handles the gateway's redirect callback.
type ReturnService struct {
	intents repository.BillingStore
	gateway payment.PaymentGateway
	ledger  *Ledger
	log     *zerolog.Logger
}

// NewReturnService creates a new ReturnService.
func NewReturnService(intents repository.BillingStore, gateway payment.PaymentGateway, ledger *Ledger, logger *zerolog.Logger) *ReturnService {
	return &ReturnService{
		intents: intents,
		gateway: gateway,
		ledger:  ledger,
		log:     logger,
	}
}

// HandleReturn authenticates the callback, then resolves its intent. The
// signature is checked before any lookup so that unsigned input cannot discover
// which order references exist.
func (s *ReturnService) HandleReturn(ctx context.Context, query url.Values, clientIP string) ReturnOutcome {
	outcome := s.handle(ctx, query, clientIP)
	metrics.IncGatewayReturn(string(outcome))
	return outcome
}

func (s *ReturnService) handle(ctx context.Context, query url.Values, clientIP string) ReturnOutcome {
	res, err := s.gateway.ParseReturn(query)
	if err != nil {
		ev := s.log.Warn().Str("gateway", s.gateway.Name()).Str("client_ip", clientIP)
		if errors.Is(err, payment.ErrInvalidSignature) {
			ev.Msg("rejected gateway return with invalid signature")
		} else {
			ev.Err(err).Msg("rejected malformed gateway return")
		}
		return ReturnInvalid
	}

	intent, err := s.intents.FindIntentByOrderRef(ctx, res.TxnRef)
	if err != nil {
		s.log.Error().Err(err).Str("order_ref", res.TxnRef).Msg("failed to look up payment intent")
		return ReturnFailed
	}
	if intent == nil || intent.Method != domain.MethodGateway {
		s.log.Warn().Str("order_ref", logging.Redact(res.TxnRef)).Msg("gateway return for unknown order")
		return ReturnNotFound
	}

	status := domain.PaymentFailed
	if res.Succeeded() {
		status = domain.PaymentSuccess
		if res.Amount != intent.Amount {
			s.log.Warn().
				Str("payment_id", intent.ID).
				Int64("expected", intent.Amount).
				Int64("reported", res.Amount).
				Msg("gateway reported a different amount, marking payment failed")
			status = domain.PaymentFailed
		}
	}

	out, err := s.ledger.Settle(ctx, intent, status, res.Raw, PathGateway)
	if err != nil {
		return ReturnFailed
	}
	if out.Intent.Status == domain.PaymentSuccess {
		return ReturnSuccess
	}
	return ReturnFailed
}

// RedirectURL builds the browser redirect for an outcome.
func RedirectURL(base string, outcome ReturnOutcome) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if outcome == ReturnSuccess {
		q.Set("success", "true")
	} else {
		q.Set("error", string(outcome))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
