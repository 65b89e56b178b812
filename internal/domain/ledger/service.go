package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/retry"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Service is the ledger API used by handlers, payment ingestion and paid actions.
type Service struct {
	store     Store
	cache     BalanceCache
	publisher Publisher
	policy    retry.Policy
}

type Option func(*Service)

// WithCache enables the balance read cache.
func WithCache(c BalanceCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithPublisher announces balance changes to live subscribers.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithRetryPolicy overrides the retry policy around store calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		cache:     noopCache{},
		publisher: noopPublisher{},
		policy:    retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance returns the sum of the user's entries, 0 when there are none.
// The value may come from the read cache and is for display only.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	l := logger.FromContext(ctx)
	if v, ok, err := s.cache.Get(ctx, userID); err != nil {
		l.Warn().Err(err).Str("user_id", userID.String()).Msg("balance cache read failed")
	} else if ok {
		return v, nil
	}

	// Read before the sum: a change committed after this point bumps the
	// version and the write below is dropped.
	version, verr := s.cache.Version(ctx, userID)
	if verr != nil {
		l.Warn().Err(verr).Str("user_id", userID.String()).Msg("balance cache version read failed")
	}

	var balance int64
	err := s.run(ctx, func() error {
		var err error
		balance, err = s.store.Sum(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	if verr == nil {
		if _, err := s.cache.SetIfVersion(ctx, userID, version, balance); err != nil {
			l.Warn().Err(err).Str("user_id", userID.String()).Msg("balance cache write failed")
		}
	}
	return balance, nil
}

// ListTransactions returns one page of history, newest first. limit is
// clamped to [1, MaxHistoryLimit] with DefaultHistoryLimit for 0; negative
// offsets are treated as 0.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	var items []Transaction
	err := s.run(ctx, func() error {
		var err error
		items, err = s.store.List(ctx, userID, limit+1, offset)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items, Limit: limit, Offset: offset}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasNext = true
	}
	return page, nil
}

// FindCredit returns the user's credit for a provider reference, or nil.
// Entries of other users are not revealed.
func (s *Service) FindCredit(ctx context.Context, userID uuid.UUID, externalRef string) (*Transaction, error) {
	var entry *Transaction
	err := s.run(ctx, func() error {
		var err error
		entry, err = s.store.FindByExternalRef(ctx, externalRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.UserID != userID {
		return nil, nil
	}
	return entry, nil
}

// AuthorizeSpend debits required tokens when the balance covers them.
// The balance check and the append happen under the user lock. A repeated
// idempotency key returns the earlier result without a second debit.
func (s *Service) AuthorizeSpend(ctx context.Context, userID uuid.UUID, required int64, meta SpendMeta) (*SpendResult, error) {
	if required <= 0 {
		return nil, ErrInvalidAmount
	}
	meta.IdempotencyKey = strings.TrimSpace(meta.IdempotencyKey)
	if meta.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if !meta.Reason.Valid() {
		return nil, ErrInvalidReason
	}

	entry, err := newEntry(userID, TypeSpend, required, Meta{Spend: &meta})
	if err != nil {
		return nil, err
	}

	var result *SpendResult
	err = s.run(ctx, func() error {
		return s.store.WithUserLock(ctx, userID, func(tx StoreTx) error {
			prior, err := tx.FindByIdempotencyKey(ctx, meta.IdempotencyKey)
			if err != nil {
				return err
			}
			balance, err := tx.Sum(ctx)
			if err != nil {
				return err
			}

			if prior != nil {
				if !sameSpend(prior, required, meta) {
					return ErrIdempotencyConflict
				}
				refund, err := tx.FindRefundOf(ctx, prior.ID)
				if err != nil {
					return err
				}
				result = &SpendResult{
					Authorized:    true,
					TransactionID: prior.ID,
					Amount:        required,
					NewBalance:    balance,
					Replayed:      true,
					Refunded:      refund != nil,
				}
				return nil
			}

			if balance < required {
				return &InsufficientBalanceError{Required: required, Available: balance}
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			result = &SpendResult{
				Authorized:    true,
				TransactionID: entry.ID,
				Amount:        required,
				NewBalance:    balance - required,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.changed(ctx, userID, result.TransactionID, result.NewBalance)
		logger.FromContext(ctx).Info().
			Str("user_id", userID.String()).
			Int64("amount", required).
			Str("reason", string(meta.Reason)).
			Str("transaction_id", result.TransactionID.String()).
			Int64("balance", result.NewBalance).
			Msg("tokens spent")
	}
	return result, nil
}

// IssueCredit appends a top-up exactly once per external payment reference.
// A reference seen before yields AlreadyProcessed with the current balance.
func (s *Service) IssueCredit(ctx context.Context, userID uuid.UUID, tokens int64, externalRef string, meta TopupMeta) (*CreditResult, error) {
	if tokens <= 0 {
		return nil, ErrInvalidAmount
	}
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return nil, ErrMissingExternalRef
	}
	meta.ExternalRef = externalRef

	entry, err := newEntry(userID, TypeTopup, tokens, Meta{Topup: &meta})
	if err != nil {
		return nil, err
	}

	var result *CreditResult
	err = s.run(ctx, func() error {
		return s.store.WithUserLock(ctx, userID, func(tx StoreTx) error {
			existing, err := tx.FindByExternalRef(ctx, externalRef)
			if err != nil {
				return err
			}
			if existing != nil && existing.UserID != userID {
				return ErrExternalRefConflict
			}
			balance, err := tx.Sum(ctx)
			if err != nil {
				return err
			}
			if existing != nil {
				result = &CreditResult{
					AlreadyProcessed: true,
					TransactionID:    existing.ID,
					Amount:           existing.Amount,
					NewBalance:       balance,
				}
				return nil
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			result = &CreditResult{
				Credited:      true,
				TransactionID: entry.ID,
				Amount:        tokens,
				NewBalance:    balance + tokens,
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrExternalRefConflict) {
			logger.FromContext(ctx).Warn().
				Str("user_id", userID.String()).
				Str("external_ref", externalRef).
				Msg("external reference already credited to another user")
		}
		return nil, err
	}

	l := logger.FromContext(ctx)
	if result.AlreadyProcessed {
		l.Info().
			Str("user_id", userID.String()).
			Str("external_ref", externalRef).
			Msg("duplicate top-up ignored")
		return result, nil
	}

	s.changed(ctx, userID, result.TransactionID, result.NewBalance)
	l.Info().
		Str("user_id", userID.String()).
		Int64("amount", tokens).
		Str("provider", meta.Provider).
		Str("external_ref", externalRef).
		Int64("balance", result.NewBalance).
		Msg("tokens credited")
	return result, nil
}

// IssueRefund appends a compensating credit for a spend, at most once.
func (s *Service) IssueRefund(ctx context.Context, userID, spendID uuid.UUID, note string) (*CreditResult, error) {
	var result *CreditResult
	err := s.run(ctx, func() error {
		return s.store.WithUserLock(ctx, userID, func(tx StoreTx) error {
			spend, err := tx.FindByID(ctx, spendID)
			if err != nil {
				return err
			}
			if spend == nil {
				return ErrTransactionNotFound
			}
			if spend.Type != TypeSpend {
				return ErrNotRefundable
			}

			balance, err := tx.Sum(ctx)
			if err != nil {
				return err
			}

			existing, err := tx.FindRefundOf(ctx, spendID)
			if err != nil {
				return err
			}
			if existing != nil {
				result = &CreditResult{
					AlreadyProcessed: true,
					TransactionID:    existing.ID,
					Amount:           existing.Amount,
					NewBalance:       balance,
				}
				return nil
			}

			reason := Reason(spend.Reason)
			if spend.Meta.Spend != nil {
				reason = spend.Meta.Spend.Reason
			}
			entry, err := newEntry(userID, TypeRefund, -spend.Amount, Meta{Refund: &RefundMeta{
				SpendID: spendID,
				Reason:  reason,
				Note:    note,
			}})
			if err != nil {
				return err
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			result = &CreditResult{
				Credited:      true,
				TransactionID: entry.ID,
				Amount:        entry.Amount,
				NewBalance:    balance + entry.Amount,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Credited {
		s.changed(ctx, userID, result.TransactionID, result.NewBalance)
		logger.FromContext(ctx).Info().
			Str("user_id", userID.String()).
			Str("spend_id", spendID.String()).
			Int64("amount", result.Amount).
			Int64("balance", result.NewBalance).
			Msg("spend refunded")
	}
	return result, nil
}

// Adjust appends a manual correction. Negative adjustments cannot take the
// balance below zero.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, amount int64, actor, note string) (*CreditResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	entry, err := newEntry(userID, TypeAdjustment, amount, Meta{Adjustment: &AdjustmentMeta{Actor: actor, Note: note}})
	if err != nil {
		return nil, err
	}

	var result *CreditResult
	err = s.run(ctx, func() error {
		return s.store.WithUserLock(ctx, userID, func(tx StoreTx) error {
			balance, err := tx.Sum(ctx)
			if err != nil {
				return err
			}
			if balance+amount < 0 {
				return &InsufficientBalanceError{Required: -amount, Available: balance}
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			result = &CreditResult{
				Credited:      true,
				TransactionID: entry.ID,
				Amount:        amount,
				NewBalance:    balance + amount,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, userID, result.TransactionID, result.NewBalance)
	logger.FromContext(ctx).Info().
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Str("actor", actor).
		Int64("balance", result.NewBalance).
		Msg("balance adjusted")
	return result, nil
}

// Reconcile recomputes the ledger sum and rewrites the cached counter when
// it has drifted.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := s.run(ctx, func() error {
		return s.store.WithUserLock(ctx, userID, func(tx StoreTx) error {
			sum, err := tx.Sum(ctx)
			if err != nil {
				return err
			}
			report = &ReconcileReport{
				UserID: userID,
				Ledger: sum,
				Cached: tx.CachedBalance(),
			}
			report.Drift = report.Cached - sum
			if report.Drift == 0 {
				return nil
			}
			if err := tx.SetCachedBalance(ctx, sum); err != nil {
				return err
			}
			report.Corrected = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if report.Corrected {
		s.changed(ctx, userID, uuid.Nil, report.Ledger)
		logger.FromContext(ctx).Warn().
			Str("user_id", userID.String()).
			Int64("ledger", report.Ledger).
			Int64("cached", report.Cached).
			Int64("drift", report.Drift).
			Msg("token balance drift corrected")
	}
	return report, nil
}

// ReconcileAll walks every user in id order. Users removed during the pass
// are skipped.
func (s *Service) ReconcileAll(ctx context.Context, batchSize int) (*ReconcileSummary, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	summary := &ReconcileSummary{}
	after := uuid.Nil

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var ids []uuid.UUID
		err := s.run(ctx, func() error {
			var err error
			ids, err = s.store.UserIDs(ctx, after, batchSize)
			return err
		})
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			return summary, nil
		}

		for _, id := range ids {
			report, err := s.Reconcile(ctx, id)
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			if err != nil {
				return summary, err
			}
			summary.Checked++
			if report.Corrected {
				summary.Corrected++
			}
		}
		after = ids[len(ids)-1]
	}
}

// run retries op on store unavailability and on unique-index races; a
// retried op re-runs its idempotency lookups and resolves the race.
func (s *Service) run(ctx context.Context, op func() error) error {
	err := retry.Do(ctx, s.policy, isRetryable, op)
	if errors.Is(err, ErrDuplicate) {
		err = op()
	}
	return err
}

// sameSpend reports whether prior is the spend meta describes: same amount,
// same reason, same course.
func sameSpend(prior *Transaction, required int64, meta SpendMeta) bool {
	if prior.Type != TypeSpend || prior.Amount != -required || prior.Meta.Spend == nil {
		return false
	}
	was := prior.Meta.Spend
	if was.Reason != meta.Reason {
		return false
	}
	switch {
	case was.CourseID == nil && meta.CourseID == nil:
		return true
	case was.CourseID == nil || meta.CourseID == nil:
		return false
	default:
		return *was.CourseID == *meta.CourseID
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrDuplicate)
}

// changed drops the cached balance and announces the new one. Neither
// failure undoes the committed entry.
func (s *Service) changed(ctx context.Context, userID, txID uuid.UUID, balance int64) {
	l := logger.FromContext(ctx)
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		l.Warn().Err(err).Str("user_id", userID.String()).Msg("balance cache invalidate failed")
	}
	ev := BalanceEvent{UserID: userID, Balance: balance, At: time.Now().UTC()}
	if txID != uuid.Nil {
		ev.TransactionID = &txID
	}
	if err := s.publisher.PublishBalance(ctx, ev); err != nil {
		l.Warn().Err(err).Str("user_id", userID.String()).Msg("balance event publish failed")
	}
}
