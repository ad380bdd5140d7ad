package ipo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/al-bashkir/ipo-result-relay/internal/cache"
	"github.com/al-bashkir/ipo-result-relay/internal/logsanitize"
	"github.com/al-bashkir/ipo-result-relay/internal/session"
	"github.com/al-bashkir/ipo-result-relay/internal/upstream"
)

// Upstream is the subset of the upstream client the checker drives.
type Upstream interface {
	CheckCaptcha(ctx context.Context, cookie string, check upstream.CaptchaCheck) (*upstream.CheckReply, error)
	CheckForm(ctx context.Context, companyID, boid string) (string, error)
}

// Sessions is the subset of the session store the checker needs.
type Sessions interface {
	Snapshot() session.Session
	Clear()
	Age() time.Duration
}

// BulkRequest asks for the results of many accounts in one company.
type BulkRequest struct {
	CompanyID   string
	BOIDs       []string
	UserCaptcha string

	// Numeric marks the fields the client sent as JSON numbers. They are
	// forwarded upstream the same way.
	Numeric NumericFields
}

// NumericFields flags number-typed request fields. BOIDs is indexed like
// BulkRequest.BOIDs and may be shorter.
type NumericFields struct {
	CompanyID   bool
	BOIDs       []bool
	UserCaptcha bool
}

func (r *BulkRequest) boidNumeric(i int) bool {
	return i < len(r.Numeric.BOIDs) && r.Numeric.BOIDs[i]
}

func scalar(s string, number bool) upstream.Scalar {
	if number {
		return upstream.Number(s)
	}
	return upstream.Text(s)
}

// BulkOutcome is the ordered result list of a batch. CaptchaError is set
// when upstream rejected the captcha; Results is then empty.
type BulkOutcome struct {
	Results      []Result
	CaptchaError bool
	Message      string
}

// Checker runs result lookups against upstream, one account at a time.
type Checker struct {
	upstream Upstream
	sessions Sessions
	cache    *cache.Cache[Result]
}

// NewChecker creates a checker.
func NewChecker(up Upstream, sessions Sessions, results *cache.Cache[Result]) *Checker {
	if results == nil {
		results = cache.New[Result](cache.DefaultTTL)
	}
	return &Checker{
		upstream: up,
		sessions: sessions,
		cache:    results,
	}
}

// normalize trims the request and checks required fields.
func (r *BulkRequest) normalize(needCaptcha bool) error {
	r.CompanyID = strings.TrimSpace(r.CompanyID)
	r.UserCaptcha = strings.TrimSpace(r.UserCaptcha)

	if r.CompanyID == "" || len(r.BOIDs) == 0 || (needCaptcha && r.UserCaptcha == "") {
		return fmt.Errorf("%w: missing parameters", ErrInvalidInput)
	}

	boids := make([]string, len(r.BOIDs))
	for i, b := range r.BOIDs {
		b = strings.TrimSpace(b)
		if b == "" {
			return fmt.Errorf("%w: boid at position %d is empty", ErrInvalidInput, i)
		}
		boids[i] = b
	}
	r.BOIDs = boids
	return nil
}

// CheckWithCaptcha runs a batch through the captcha-bound protocol.
//
// The first account doubles as the captcha check: if upstream rejects the
// captcha nothing else is sent. Later accounts reuse the same captcha and
// their individual failures are recorded in place. The stored session is
// cleared once the batch has been attempted, whatever the outcome, so the
// next batch needs a fresh captcha.
//
// Once started a batch runs to the end even if ctx is cancelled; each
// upstream call is bounded by the client timeout only.
func (c *Checker) CheckWithCaptcha(ctx context.Context, req BulkRequest) (*BulkOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	if err := req.normalize(true); err != nil {
		return nil, err
	}

	sess := c.sessions.Snapshot()
	if !sess.Valid() {
		return nil, ErrSessionExpired
	}
	sessionAge := c.sessions.Age()
	defer c.sessions.Clear()

	slog.Info("bulk check started", // #nosec G706 -- values sanitized via logsanitize
		"variant", "captcha",
		"company_id", logsanitize.Sanitize(req.CompanyID),
		"count", len(req.BOIDs),
		"session_age", sessionAge.Round(time.Second),
	)

	submit := func(i int) (*upstream.CheckReply, error) {
		return c.upstream.CheckCaptcha(ctx, sess.Cookie, upstream.NewCaptchaCheck(
			scalar(req.CompanyID, req.Numeric.CompanyID),
			scalar(req.BOIDs[i], req.boidNumeric(i)),
			sess.CaptchaIdentifier,
			scalar(req.UserCaptcha, req.Numeric.UserCaptcha),
		))
	}

	first, err := submit(0)
	if err != nil {
		return nil, fmt.Errorf("captcha validation request failed: %w", err)
	}
	if isCaptchaRejection(first.Success, first.Message) {
		slog.Info("captcha rejected by upstream", // #nosec G706 -- values sanitized via logsanitize
			"company_id", logsanitize.Sanitize(req.CompanyID),
			"message", logsanitize.Sanitize(first.Message),
		)
		return &BulkOutcome{Results: []Result{}, CaptchaError: true, Message: "Invalid captcha"}, nil
	}

	results := make([]Result, 0, len(req.BOIDs))
	results = append(results, replyResult(req.BOIDs[0], req.CompanyID, first))

	for i := 1; i < len(req.BOIDs); i++ {
		boid := req.BOIDs[i]
		reply, err := submit(i)
		if err != nil {
			slog.Warn("result check failed", // #nosec G706 -- values masked via logsanitize
				"boid", logsanitize.MaskBOID(boid),
				"error", err,
			)
			results = append(results, failed(boid, req.CompanyID, MessageCheckFailed))
			continue
		}
		results = append(results, replyResult(boid, req.CompanyID, reply))
	}

	logSummary("captcha", req.CompanyID, results)
	return &BulkOutcome{Results: results}, nil
}

// CheckCached runs a batch through the form protocol, serving repeated
// lookups from the result cache. It always completes, ctx cancellation
// included; failed lookups are recorded as error-flagged entries.
func (c *Checker) CheckCached(ctx context.Context, req BulkRequest) (*BulkOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	if err := req.normalize(false); err != nil {
		return nil, err
	}

	slog.Info("bulk check started", // #nosec G706 -- values sanitized via logsanitize
		"variant", "cached",
		"company_id", logsanitize.Sanitize(req.CompanyID),
		"count", len(req.BOIDs),
	)

	results := make([]Result, 0, len(req.BOIDs))
	for _, boid := range req.BOIDs {
		r, err := c.Lookup(ctx, boid, req.CompanyID)
		if err != nil {
			slog.Warn("result check failed", // #nosec G706 -- values masked via logsanitize
				"boid", logsanitize.MaskBOID(boid),
				"error", err,
			)
			results = append(results, failed(boid, req.CompanyID, MessageCheckFailed))
			continue
		}
		results = append(results, r)
	}

	logSummary("cached", req.CompanyID, results)
	return &BulkOutcome{Results: results}, nil
}

// Lookup returns the result for one account, from the cache when a fresh
// entry exists and from upstream otherwise. Successful upstream answers are
// cached; failures are not. The upstream call is not cut short by ctx
// cancellation.
func (c *Checker) Lookup(ctx context.Context, boid, companyID string) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	boid = strings.TrimSpace(boid)
	companyID = strings.TrimSpace(companyID)
	if boid == "" || companyID == "" {
		return Result{}, fmt.Errorf("%w: boid and companyId are required", ErrInvalidInput)
	}

	if r, ok := c.cache.Get(boid, companyID); ok {
		r.Cached = true
		return r, nil
	}

	text, err := c.upstream.CheckForm(ctx, companyID, boid)
	if err != nil {
		return Result{}, err
	}

	allotted := Classify(text)
	r := Result{
		BOID:      boid,
		CompanyID: companyID,
		Allotted:  allotted,
		Message:   classifyMessage(allotted),
	}
	c.cache.Put(boid, companyID, r)
	return r, nil
}

func replyResult(boid, companyID string, reply *upstream.CheckReply) Result {
	return Result{
		BOID:      boid,
		CompanyID: companyID,
		Allotted:  reply.Success,
		Message:   reply.Message,
	}
}

func logSummary(variant, companyID string, results []Result) {
	var allotted, cached, failures int
	for _, r := range results {
		switch {
		case r.Error:
			failures++
		case r.Allotted:
			allotted++
		}
		if r.Cached {
			cached++
		}
	}

	slog.Info("bulk check finished", // #nosec G706 -- values sanitized via logsanitize
		"variant", variant,
		"company_id", logsanitize.Sanitize(companyID),
		"count", len(results),
		"allotted", allotted,
		"cached", cached,
		"errors", failures,
	)
}
