package course

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/pkg/imaging"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/storage"
)

// Spender is the ledger side of a paid action.
type Spender interface {
	AuthorizeSpend(ctx context.Context, userID uuid.UUID, required int64, meta ledger.SpendMeta) (*ledger.SpendResult, error)
	IssueRefund(ctx context.Context, userID, spendID uuid.UUID, note string) (*ledger.CreditResult, error)
}

// Generator produces program text and illustrations.
type Generator interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Renderer turns an HTML document into a PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// ImageFitter prepares generated images for the page.
type ImageFitter interface {
	FitForPage(data []byte) (*imaging.Fitted, error)
}

// Config tunes paid actions and exports.
type Config struct {
	// RefundOnFailure reverses the debit when generation fails after it.
	RefundOnFailure  bool
	PublicAppURL     string
	ImageConcurrency int
	// ActionLease bounds one generation attempt. A retry with the same key
	// gets ErrActionInProgress until the lease runs out.
	ActionLease time.Duration
}

// Deps are the collaborators of the course service.
type Deps struct {
	Repo      Repository
	Ledger    Spender
	Generator Generator
	Renderer  Renderer
	Images    ImageFitter
	Storage   storage.Storage
}

// Service runs the paid course actions. Every action prices itself through
// pricing.ActionCost and debits through the ledger before generating.
type Service struct {
	repo     Repository
	ledger   Spender
	gen      Generator
	renderer Renderer
	images   ImageFitter
	storage  storage.Storage
	cfg      Config
	now      func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 3
	}
	if cfg.ActionLease <= 0 {
		cfg.ActionLease = 10 * time.Minute
	}
	return &Service{
		repo:     d.Repo,
		ledger:   d.Ledger,
		gen:      d.Generator,
		renderer: d.Renderer,
		images:   d.Images,
		storage:  d.Storage,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PublishRequest creates a course. With a preview id the preview's options
// are used.
type PublishRequest struct {
	Options   pricing.Options `json:"options"`
	PreviewID *uuid.UUID      `json:"preview_id,omitempty"`
}

type RegenerateDayRequest struct {
	Week int `json:"week" validate:"required,min=1"`
	Day  int `json:"day" validate:"required,min=1"`
}

type RegenerateWeekRequest struct {
	Week int `json:"week" validate:"required,min=1"`
}

type ExportRequest struct {
	Mode   pricing.PDFMode `json:"mode" validate:"required,pdf_mode"`
	Images int             `json:"images" validate:"min=0,max=40"`
}

// Preview generates the first week of a program for the preview price.
func (s *Service) Preview(ctx context.Context, userID uuid.UUID, key string, opts pricing.Options) (*PreviewResult, error) {
	opts = pricing.Normalize(opts)
	cost, err := pricing.ActionCost(ledger.ReasonPreview, opts)
	if err != nil {
		return nil, err
	}

	spend, done, err := s.charge(ctx, userID, key, ledger.ReasonPreview, cost, nil, opts)
	if err != nil {
		return nil, err
	}
	if done != nil && done.PreviewID != nil {
		p, err := s.repo.GetPreview(ctx, userID, *done.PreviewID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &PreviewResult{Preview: p, Description: p.Description(), Charge: chargeOf(spend, cost)}, nil
		}
	}

	content, err := s.complete(ctx, trainerSystem, previewPrompt(opts), previewMaxTokens)
	if err != nil {
		return nil, s.fail(ctx, userID, spend, "preview", err)
	}

	p := &Preview{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     Title(opts),
		Options:   StoredOptions{opts},
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertPreview(ctx, p, s.action(spend, userID, ledger.ReasonPreview, nil, &p.ID)); err != nil {
		return nil, s.fail(ctx, userID, spend, "save preview", err)
	}
	return &PreviewResult{Preview: p, Description: p.Description(), Charge: chargeOf(spend, cost)}, nil
}

// Publish generates and stores the full program for its quoted price.
func (s *Service) Publish(ctx context.Context, userID uuid.UUID, key string, req PublishRequest) (*CourseResult, error) {
	opts := req.Options
	if req.PreviewID != nil {
		p, err := s.repo.GetPreview(ctx, userID, *req.PreviewID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrPreviewNotFound
		}
		opts = p.Options.Options
	}
	opts = pricing.Normalize(opts)

	cost, err := pricing.ActionCost(ledger.ReasonPublish, opts)
	if err != nil {
		return nil, err
	}
	spend, done, err := s.charge(ctx, userID, key, ledger.ReasonPublish, cost, nil, opts)
	if err != nil {
		return nil, err
	}
	if done != nil && done.CourseID != nil {
		c, err := s.repo.GetCourse(ctx, userID, *done.CourseID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
		}
	}

	var plan, nutrition string
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		plan, err = s.complete(ctx, trainerSystem, planPrompt(opts), planMaxTokens)
		return err
	})
	if opts.NutritionTips {
		p.Go(func(ctx context.Context) error {
			var err error
			nutrition, err = s.complete(ctx, nutritionSystem, nutritionPrompt(opts), nutritionMaxTokens)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return nil, s.fail(ctx, userID, spend, "publish", err)
	}

	now := s.now()
	c := &Course{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       Title(opts),
		Options:     StoredOptions{opts},
		Content:     plan,
		Nutrition:   nutrition,
		TokensSpent: cost,
		PaidPDF:     opts.PDF,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertCourse(ctx, c, s.action(spend, userID, ledger.ReasonPublish, &c.ID, nil)); err != nil {
		return nil, s.fail(ctx, userID, spend, "save course", err)
	}

	logger.FromContext(ctx).Info().
		Str("course_id", c.ID.String()).
		Int64("tokens", cost).
		Msg("course published")
	return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
}

// RegenerateDay rewrites one training day in place.
func (s *Service) RegenerateDay(ctx context.Context, userID, courseID uuid.UUID, key string, req RegenerateDayRequest) (*CourseResult, error) {
	c, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	opts := pricing.Normalize(c.Options.Options)
	if req.Week < 1 || req.Week > opts.Weeks || req.Day < 1 || req.Day > opts.SessionsPerWeek {
		return nil, ErrInvalidSection
	}

	return s.rewrite(ctx, c, key, ledger.ReasonRegenDay, func(ctx context.Context) (string, error) {
		current, _ := Day(c.Content, req.Week, req.Day)
		block, err := s.complete(ctx, trainerSystem, dayPrompt(opts, req.Week, req.Day, current), dayMaxTokens)
		if err != nil {
			return "", err
		}
		return ReplaceDay(c.Content, req.Week, req.Day, block), nil
	})
}

// RegenerateWeek rewrites one week in place.
func (s *Service) RegenerateWeek(ctx context.Context, userID, courseID uuid.UUID, key string, req RegenerateWeekRequest) (*CourseResult, error) {
	c, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	opts := pricing.Normalize(c.Options.Options)
	if req.Week < 1 || req.Week > opts.Weeks {
		return nil, ErrInvalidSection
	}

	return s.rewrite(ctx, c, key, ledger.ReasonRegenWeek, func(ctx context.Context) (string, error) {
		current, _ := Week(c.Content, req.Week)
		block, err := s.complete(ctx, trainerSystem, weekPrompt(opts, req.Week, current), weekMaxTokens)
		if err != nil {
			return "", err
		}
		return ReplaceWeek(c.Content, req.Week, block), nil
	})
}

func (s *Service) rewrite(ctx context.Context, c *Course, key string, reason ledger.Reason, gen func(context.Context) (string, error)) (*CourseResult, error) {
	opts := pricing.Normalize(c.Options.Options)
	cost, err := pricing.ActionCost(reason, opts)
	if err != nil {
		return nil, err
	}
	spend, done, err := s.charge(ctx, c.UserID, key, reason, cost, &c.ID, opts)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
	}

	content, err := gen(ctx)
	if err != nil {
		return nil, s.fail(ctx, c.UserID, spend, string(reason), err)
	}

	c.Content = content
	c.TokensSpent += cost
	// The stored PDF no longer matches; a re-export at the paid mode is free.
	c.PDFURL, c.PDFMode = "", ""
	c.UpdatedAt = s.now()
	if err := s.repo.UpdateCourse(ctx, c, s.action(spend, c.UserID, reason, &c.ID, nil)); err != nil {
		return nil, s.fail(ctx, c.UserID, spend, "save course", err)
	}
	return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
}

// ExportPDF renders the course to PDF and stores it. Modes covered by the
// publish price cost nothing.
func (s *Service) ExportPDF(ctx context.Context, userID, courseID uuid.UUID, key string, req ExportRequest) (*CourseResult, error) {
	if req.Mode != pricing.PDFText && req.Mode != pricing.PDFIllustrated {
		return nil, ErrNothingToExport
	}
	c, err := s.Get(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if req.Mode == pricing.PDFText {
		req.Images = 0
	}

	exportOpts := pricing.Options{PDF: req.Mode, Images: req.Images}
	var cost int64
	if !covered(c, req) {
		if cost, err = pricing.ActionCost(ledger.ReasonPDFExport, exportOpts); err != nil {
			return nil, err
		}
	}

	var spend *ledger.SpendResult
	if cost > 0 {
		var done *Action
		spend, done, err = s.charge(ctx, userID, key, ledger.ReasonPDFExport, cost, &c.ID, exportOpts)
		if err != nil {
			return nil, err
		}
		if done != nil && c.PDFURL != "" {
			return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
		}
	}

	url, err := s.exportPDF(ctx, c, req)
	if err != nil {
		return nil, s.fail(ctx, userID, spend, "pdf export", err)
	}

	c.PDFURL, c.PDFMode = url, string(req.Mode)
	c.TokensSpent += cost
	c.UpdatedAt = s.now()
	if err := s.repo.UpdateCourse(ctx, c, s.action(spend, userID, ledger.ReasonPDFExport, &c.ID, nil)); err != nil {
		return nil, s.fail(ctx, userID, spend, "save course", err)
	}
	return &CourseResult{Course: c, Charge: chargeOf(spend, cost)}, nil
}

// covered reports whether the publish price already paid for this export.
func covered(c *Course, req ExportRequest) bool {
	switch c.PaidPDF {
	case pricing.PDFIllustrated:
		return req.Mode == pricing.PDFText || req.Images <= c.Options.Images
	case pricing.PDFText:
		return req.Mode == pricing.PDFText
	default:
		return false
	}
}

// Get returns a course owned by the user.
func (s *Service) Get(ctx context.Context, userID, courseID uuid.UUID) (*Course, error) {
	c, err := s.repo.GetCourse(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCourseNotFound
	}
	return c, nil
}

// GetPreview returns a preview owned by the user.
func (s *Service) GetPreview(ctx context.Context, userID, id uuid.UUID) (*Preview, error) {
	p, err := s.repo.GetPreview(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPreviewNotFound
	}
	return p, nil
}

// List returns a page of the user's courses, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Course, bool, error) {
	courses, err := s.repo.ListCourses(ctx, userID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	if len(courses) > limit {
		return courses[:limit], true, nil
	}
	return courses, false, nil
}

// charge debits the action. On a replayed key it returns the recorded
// action when the earlier attempt finished. Otherwise the caller must hold
// the spend's lease before generating; an attempt still running keeps it.
func (s *Service) charge(ctx context.Context, userID uuid.UUID, key string, reason ledger.Reason, cost int64, courseID *uuid.UUID, opts pricing.Options) (*ledger.SpendResult, *Action, error) {
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, nil, err
	}
	spend, err := s.ledger.AuthorizeSpend(ctx, userID, cost, ledger.SpendMeta{
		Reason:         reason,
		IdempotencyKey: key,
		CourseID:       courseID,
		Options:        raw,
	})
	if err != nil {
		return nil, nil, err
	}
	if spend.Replayed {
		if spend.Refunded {
			return nil, nil, ErrSpendRefunded
		}
		done, err := s.repo.FindAction(ctx, spend.TransactionID)
		if err != nil {
			return nil, nil, err
		}
		if done != nil {
			return spend, done, nil
		}
	}

	now := s.now()
	leased, err := s.repo.LeaseAction(ctx, spend.TransactionID, userID, now, now.Add(s.cfg.ActionLease))
	if err != nil {
		return nil, nil, err
	}
	if !leased {
		return nil, nil, ErrActionInProgress
	}
	return spend, nil, nil
}

// fail reports a generation failure after the debit and applies the
// refund policy.
func (s *Service) fail(ctx context.Context, userID uuid.UUID, spend *ledger.SpendResult, op string, cause error) error {
	gerr := &GenerationError{Op: op, Err: cause}
	l := logger.FromContext(ctx)
	// The client may be gone; the refund and release must still land.
	rctx := context.WithoutCancel(ctx)

	if spend != nil && s.cfg.RefundOnFailure {
		if _, err := s.ledger.IssueRefund(rctx, userID, spend.TransactionID, op+" failed"); err != nil {
			l.Error().Err(err).Str("spend_id", spend.TransactionID.String()).Msg("refund after failed generation")
		} else {
			gerr.Refunded = true
		}
	}

	if spend != nil {
		if err := s.repo.ReleaseAction(rctx, spend.TransactionID); err != nil {
			l.Warn().Err(err).Str("spend_id", spend.TransactionID.String()).Msg("release action lease")
		}
	}

	ev := l.Error().Err(cause).Str("op", op).Bool("refunded", gerr.Refunded)
	if spend != nil {
		ev = ev.Str("spend_id", spend.TransactionID.String())
	}
	ev.Msg("generation failed")
	return gerr
}

func (s *Service) action(spend *ledger.SpendResult, userID uuid.UUID, reason ledger.Reason, courseID, previewID *uuid.UUID) *Action {
	if spend == nil {
		return nil
	}
	return &Action{
		SpendID:   spend.TransactionID,
		UserID:    userID,
		Reason:    reason,
		CourseID:  courseID,
		PreviewID: previewID,
		CreatedAt: s.now(),
	}
}

var errEmptyCompletion = errors.New("model returned no content")

func (s *Service) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	out, err := s.gen.Complete(ctx, system, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errEmptyCompletion
	}
	return out, nil
}

func chargeOf(spend *ledger.SpendResult, cost int64) Charge {
	if spend == nil {
		return Charge{}
	}
	return Charge{
		TransactionID: &spend.TransactionID,
		Tokens:        cost,
		NewBalance:    &spend.NewBalance,
		Replayed:      spend.Replayed,
	}
}
