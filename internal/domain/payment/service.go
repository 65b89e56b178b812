package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/pkg/armenotech"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/stripe"
)

// CreditIssuer is the ledger side of a top-up.
type CreditIssuer interface {
	IssueCredit(ctx context.Context, userID uuid.UUID, tokens int64, externalRef string, meta ledger.TopupMeta) (*ledger.CreditResult, error)
	FindCredit(ctx context.Context, userID uuid.UUID, externalRef string) (*ledger.Transaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// TransactionLookup reads a payment back from the gateway.
type TransactionLookup interface {
	Transaction(ctx context.Context, guid string) (*armenotech.Transaction, error)
}

// Config holds provider secrets and the money to token rate.
type Config struct {
	StripeWebhookSecret      string
	StripeSignatureTolerance time.Duration
	ArmenotechSecret         string
	TokensPerUnit            int64
}

// Service turns provider notifications into ledger credits.
type Service struct {
	credits CreditIssuer
	events  Repository
	lookup  TransactionLookup
	cfg     Config
	now     func() time.Time
}

func NewService(credits CreditIssuer, events Repository, cfg Config) *Service {
	if cfg.TokensPerUnit <= 0 {
		cfg.TokensPerUnit = 100
	}
	if cfg.StripeSignatureTolerance <= 0 {
		cfg.StripeSignatureTolerance = 5 * time.Minute
	}
	return &Service{credits: credits, events: events, cfg: cfg, now: time.Now}
}

// WithTransactionLookup lets the success page credit a payment the gateway
// confirms. Without it the page only reports what callbacks credited.
func (s *Service) WithTransactionLookup(l TransactionLookup) *Service {
	s.lookup = l
	return s
}

// RedirectConfirmation is posted by the success page after checkout. Only
// the reference is taken from the page; what it paid comes from the gateway.
type RedirectConfirmation struct {
	TransactionGUID string `json:"transaction_guid" validate:"required,max=255"`
}

// HandleStripeWebhook verifies and applies a Stripe event. Only paid
// checkout sessions credit tokens; every other event is acknowledged.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	if s.cfg.StripeWebhookSecret == "" {
		return nil, ErrNotConfigured
	}
	if err := stripe.VerifySignature(payload, signature, s.cfg.StripeWebhookSecret, s.cfg.StripeSignatureTolerance, s.now()); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("stripe signature rejected")
		return nil, ErrInvalidSignature
	}

	ev, err := stripe.ParseEvent(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if ev.Type != stripe.EventCheckoutSessionCompleted {
		logger.FromContext(ctx).Debug().Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("stripe event ignored")
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	session, err := ev.CheckoutSession()
	if err != nil {
		return nil, ErrInvalidPayload
	}

	c := Credit{
		Provider:    ProviderStripe,
		ExternalRef: session.ID,
		Currency:    strings.ToUpper(session.Currency),
		Source:      session.Metadata["source"],
		Status:      session.PaymentStatus,
		Raw:         payload,
	}
	if session.PaymentStatus != stripe.PaymentStatusPaid {
		return s.record(ctx, c, OutcomeIgnored, nil), nil
	}

	uid := session.Metadata["userId"]
	if uid == "" {
		uid = session.ClientReferenceID
	}
	userID, err := uuid.Parse(uid)
	if err != nil {
		return s.reject(ctx, c, ErrMissingUser), nil
	}
	c.UserID = userID

	c.Amount = decimal.New(session.AmountTotal, -2)
	if v := session.Metadata["amount"]; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			c.Amount = d
		}
	}
	if region := session.Metadata["region"]; region != "" && c.Source == "" {
		c.Source = "region:" + region
	}

	tokens, err := s.resolveTokens(session.Metadata["tokens"], &c.Amount, "")
	if err != nil {
		return s.reject(ctx, c, err), nil
	}
	c.Tokens = tokens

	return s.credit(ctx, c)
}

// HandleArmenotechCallback verifies and applies an Armenotech callback.
func (s *Service) HandleArmenotechCallback(ctx context.Context, body []byte) (*Result, error) {
	if s.cfg.ArmenotechSecret == "" {
		return nil, ErrNotConfigured
	}
	cb, err := armenotech.ParseCallback(body, s.cfg.ArmenotechSecret)
	if err != nil {
		if errors.Is(err, armenotech.ErrMalformedBody) {
			return nil, ErrInvalidPayload
		}
		logger.FromContext(ctx).Warn().Err(err).Msg("armenotech signature rejected")
		return nil, ErrInvalidSignature
	}
	if strings.TrimSpace(cb.TransactionGUID) == "" {
		return nil, ErrMissingReference
	}

	c := Credit{
		Provider:    ProviderArmenotech,
		ExternalRef: cb.TransactionGUID,
		Currency:    strings.ToUpper(cb.Currency),
		Plan:        cb.PlanName,
		Status:      cb.Status,
		Raw:         body,
	}
	var amount *decimal.Decimal
	if cb.Amount != "" {
		d, err := decimal.NewFromString(cb.Amount.String())
		if err != nil {
			return nil, ErrInvalidPayload
		}
		c.Amount = d
		amount = &d
	}
	if !cb.Succeeded() {
		return s.record(ctx, c, OutcomeIgnored, nil), nil
	}

	userID, err := uuid.Parse(cb.UserID)
	if err != nil {
		return s.reject(ctx, c, ErrMissingUser), nil
	}
	c.UserID = userID

	tokens, err := s.resolveTokens(cb.Tokens.String(), amount, cb.PlanName)
	if err != nil {
		return s.reject(ctx, c, err), nil
	}
	c.Tokens = tokens

	return s.credit(ctx, c)
}

// ConfirmRedirect answers the success page. With a gateway lookup it
// credits the payment from the gateway's own record, which must belong to
// the caller. Without one it only reports whether the signed callback has
// credited it yet. Either way it shares the external reference space with
// the callback, so whichever arrives second is a no-op.
func (s *Service) ConfirmRedirect(ctx context.Context, userID uuid.UUID, req RedirectConfirmation) (*Result, error) {
	ref := strings.TrimSpace(req.TransactionGUID)
	if ref == "" {
		return nil, ErrMissingReference
	}
	if s.lookup == nil {
		return s.redirectStatus(ctx, userID, ref)
	}

	tx, err := s.lookup.Transaction(ctx, ref)
	if errors.Is(err, armenotech.ErrTransactionNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("external_ref", ref).Msg("armenotech transaction lookup failed")
		return nil, ErrProviderUnavailable
	}
	if owner, err := uuid.Parse(tx.UserID); err != nil || owner != userID {
		return nil, ErrPaymentNotFound
	}
	if !tx.Succeeded() {
		return s.redirectStatus(ctx, userID, ref)
	}

	c := Credit{
		Provider:    ProviderRedirect,
		ExternalRef: ref,
		UserID:      userID,
		Currency:    strings.ToUpper(tx.Currency),
		Plan:        tx.PlanName,
		Status:      tx.Status,
	}
	var amount *decimal.Decimal
	if tx.Amount != "" {
		d, err := decimal.NewFromString(tx.Amount.String())
		if err != nil {
			return nil, ErrInvalidPayload
		}
		c.Amount = d
		amount = &d
	}
	if c.Tokens, err = s.resolveTokens(tx.Tokens.String(), amount, tx.PlanName); err != nil {
		return nil, err
	}
	return s.credit(ctx, c)
}

// redirectStatus reports an existing credit or a pending payment. It never
// writes to the ledger.
func (s *Service) redirectStatus(ctx context.Context, userID uuid.UUID, ref string) (*Result, error) {
	entry, err := s.credits.FindCredit(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	balance, err := s.credits.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &Result{Outcome: OutcomePending, NewBalance: balance}, nil
	}
	return &Result{
		Outcome:          OutcomeAlreadyProcessed,
		AlreadyProcessed: true,
		NewBalance:       balance,
		TransactionID:    entry.ID,
	}, nil
}

// History lists the user's recorded payment notifications.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Event, error) {
	return s.events.ListByUser(ctx, userID, limit, offset)
}

// resolveTokens picks the credit size: explicit tokens, then amount times
// the rate, then the named package.
func (s *Service) resolveTokens(explicit string, amount *decimal.Decimal, plan string) (int64, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		n, err := decimal.NewFromString(explicit)
		if err != nil {
			return 0, ErrInvalidPayload
		}
		if tokens := n.Floor().IntPart(); tokens > 0 {
			return tokens, nil
		}
		return 0, ErrUnresolvedTokens
	}
	if amount != nil {
		if tokens := pricing.TokensForMoney(*amount, s.cfg.TokensPerUnit); tokens > 0 {
			return tokens, nil
		}
		return 0, ErrUnresolvedTokens
	}
	if plan != "" {
		if p, err := pricing.FindPackage(plan); err == nil {
			return p.Tokens, nil
		}
	}
	return 0, ErrUnresolvedTokens
}

func (s *Service) credit(ctx context.Context, c Credit) (*Result, error) {
	res, err := s.credits.IssueCredit(ctx, c.UserID, c.Tokens, c.ExternalRef, ledger.TopupMeta{
		Provider:    string(c.Provider),
		ExternalRef: c.ExternalRef,
		Currency:    c.Currency,
		GrossAmount: c.Amount,
		Source:      c.Source,
		Plan:        c.Plan,
		Rate:        s.cfg.TokensPerUnit,
	})
	if err != nil {
		// Store outages are retried by the provider; everything else is final.
		if errors.Is(err, ledger.ErrPersistence) || c.Provider == ProviderRedirect {
			return nil, err
		}
		return s.reject(ctx, c, err), nil
	}

	if res.AlreadyProcessed {
		out := s.record(ctx, c, OutcomeAlreadyProcessed, &res.TransactionID)
		out.AlreadyProcessed = true
		out.NewBalance = res.NewBalance
		return out, nil
	}
	out := s.record(ctx, c, OutcomeCredited, &res.TransactionID)
	out.TokensAdded = res.Amount
	out.NewBalance = res.NewBalance
	return out, nil
}

func (s *Service) reject(ctx context.Context, c Credit, cause error) *Result {
	logger.FromContext(ctx).Error().
		Err(cause).
		Str("provider", string(c.Provider)).
		Str("external_ref", c.ExternalRef).
		Msg("payment notification not credited")
	return s.record(ctx, c, OutcomeRejected, nil)
}

// record writes the audit row. A failed write is logged and does not
// change the outcome reported to the provider.
func (s *Service) record(ctx context.Context, c Credit, outcome Outcome, txID *uuid.UUID) *Result {
	e := &Event{
		ID:          uuid.New(),
		Provider:    c.Provider,
		ExternalRef: c.ExternalRef,
		Status:      c.Status,
		Currency:    c.Currency,
		Tokens:      c.Tokens,
		Outcome:     outcome,
		RawPayload:  c.Raw,
	}
	if c.UserID != uuid.Nil {
		e.UserID = uuid.NullUUID{UUID: c.UserID, Valid: true}
	}
	if !c.Amount.IsZero() {
		e.Amount = decimal.NullDecimal{Decimal: c.Amount, Valid: true}
	}
	if txID != nil {
		e.TransactionID = uuid.NullUUID{UUID: *txID, Valid: true}
	}
	if err := s.events.Record(ctx, e); err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("provider", string(c.Provider)).
			Str("external_ref", c.ExternalRef).
			Msg("failed to record payment event")
	}

	out := &Result{Outcome: outcome}
	if txID != nil {
		out.TransactionID = *txID
	}
	return out
}
