// Package upstream talks to the external IPO result-checking site.
//
// The site has no documented API. The client mimics a browser: a fixed
// user agent, the session cookie captured from the landing page, and the
// same JSON or form payloads the site's own page submits.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/al-bashkir/ipo-result-relay/internal/upstream"

// maxBodyBytes bounds how much of an upstream reply is read.
const maxBodyBytes = 2 << 20

var (
	// ErrParse is returned when the captcha page lacks the identifier or image.
	ErrParse = errors.New("captcha parsing failed")

	// ErrStatus is returned for non-2xx replies that carry no usable payload.
	ErrStatus = errors.New("unexpected upstream status")
)

// Config holds the client settings.
type Config struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	CheckPath     string
	FormCheckPath string

	// RPS paces outbound calls; zero leaves them unpaced.
	RPS   float64
	Burst int

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client issues requests to the upstream site.
type Client struct {
	baseURL       string
	userAgent     string
	checkPath     string
	formCheckPath string
	httpClient    *http.Client
	limiter       *rate.Limiter
	tracer        trace.Tracer
}

// NewClient creates a new upstream client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:     cfg.UserAgent,
		checkPath:     cfg.CheckPath,
		formCheckPath: cfg.FormCheckPath,
		httpClient:    hc,
		tracer:        otel.Tracer(tracerName),
	}
	if c.checkPath == "" {
		c.checkPath = "/result/result/check"
	}
	if c.formCheckPath == "" {
		c.formCheckPath = c.checkPath
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return c
}

// Captcha is the state scraped from the landing page.
type Captcha struct {
	Cookie     string
	Identifier string
	ImageURL   string
}

// FetchCaptcha loads the landing page, captures its session cookies and
// extracts the captcha identifier and image location.
func (c *Client) FetchCaptcha(ctx context.Context) (captcha *Captcha, err error) {
	ctx, span := c.tracer.Start(ctx, "upstream.fetch_captcha")
	defer func() { endSpan(span, err) }()

	resp, err := c.do(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: captcha page returned %d", ErrStatus, resp.StatusCode)
	}

	identifier, imagePath, err := parseCaptchaPage(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &Captcha{
		Cookie:     joinCookies(resp.Header.Values("Set-Cookie")),
		Identifier: identifier,
		ImageURL:   c.absoluteURL(imagePath),
	}, nil
}

// CaptchaCheck is the JSON payload of the captcha-bound result check.
type CaptchaCheck struct {
	CompanyShareID    Scalar `json:"companyShareId"`
	BOID              Scalar `json:"boid"`
	CaptchaIdentifier string `json:"captchaIdentifier"`
	UserCaptcha       Scalar `json:"usercaptcha"`
}

// NewCaptchaCheck builds the payload for one account.
func NewCaptchaCheck(companyID, boid Scalar, captchaIdentifier string, userCaptcha Scalar) CaptchaCheck {
	return CaptchaCheck{
		CompanyShareID:    companyID,
		BOID:              boid,
		CaptchaIdentifier: captchaIdentifier,
		UserCaptcha:       userCaptcha,
	}
}

// CheckReply is the upstream verdict for a captcha-bound check.
type CheckReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckCaptcha submits a captcha-bound result check using the session cookie.
// Upstream rejects bad captchas with a JSON body, sometimes on a non-2xx
// status, so the body is decoded whenever it is JSON.
func (c *Client) CheckCaptcha(ctx context.Context, cookie string, check CaptchaCheck) (reply *CheckReply, err error) {
	ctx, span := c.tracer.Start(ctx, "upstream.check_captcha",
		trace.WithAttributes(attribute.String("ipo.company_id", check.CompanyShareID.Text)))
	defer func() { endSpan(span, err) }()

	body, err := json.Marshal(check)
	if err != nil {
		return nil, fmt.Errorf("failed to encode check: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if cookie != "" {
		headers.Set("Cookie", cookie)
	}

	resp, err := c.do(ctx, http.MethodPost, c.checkPath, bytes.NewReader(body), headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read check reply: %w", err)
	}

	var r CheckReply
	if err := json.Unmarshal(data, &r); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: check returned %d", ErrStatus, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to decode check reply: %w", err)
	}

	return &r, nil
}

// CheckForm submits the form-encoded, captcha-free result check and returns
// the raw reply text for keyword classification.
func (c *Client) CheckForm(ctx context.Context, companyID, boid string) (text string, err error) {
	ctx, span := c.tracer.Start(ctx, "upstream.check_form",
		trace.WithAttributes(attribute.String("ipo.company_id", companyID)))
	defer func() { endSpan(span, err) }()

	form := url.Values{}
	form.Set("boid", boid)
	form.Set("companyShareId", companyID)

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, http.MethodPost, c.formCheckPath, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: form check returned %d", ErrStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read form reply: %w", err)
	}

	return string(data), nil
}

// do paces, builds and sends one request.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("upstream pacing: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	return resp, nil
}

// absoluteURL joins a page-relative path onto the upstream origin.
func (c *Client) absoluteURL(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return c.baseURL + p
}

// joinCookies keeps only the name=value part of each Set-Cookie directive.
func joinCookies(setCookies []string) string {
	parts := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		nv, _, _ := strings.Cut(sc, ";")
		nv = strings.TrimSpace(nv)
		if nv != "" {
			parts = append(parts, nv)
		}
	}
	return strings.Join(parts, "; ")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
