package scoring

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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 2 // requests per second
	defaultBurst     = 4
	maxResponseBytes = 1 << 20
)

var (
	// ErrNoUser means no user name is configured.
	ErrNoUser = errors.New("scoring: no user name configured")
	// ErrNotFound is a 404 from the service.
	ErrNotFound = errors.New("scoring: user not found")
)

// APIError is a non-2xx response.
type APIError struct {
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("scoring: %s returned %d: %s", e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("scoring: %s returned %d", e.Path, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the scoring service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithRateLimit caps requests per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(r, burst) }
}

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithClock sets the clock used for profile timestamps.
func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// User fetches the onboarding record for name.
func (c *Client) User(ctx context.Context, name string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(name), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Score fetches the shield score for name.
func (c *Client) Score(ctx context.Context, name string) (float64, error) {
	var s scoreResponse
	if err := c.do(ctx, http.MethodGet, "/score/"+url.PathEscape(name), nil, &s); err != nil {
		return 0, err
	}
	return s.ShieldScore, nil
}

// Onboard stores a user record and returns it as the service echoed it.
func (c *Client) Onboard(ctx context.Context, u *User) (*User, error) {
	if u == nil || u.Name == "" {
		return nil, ErrNoUser
	}
	var resp onboardResponse
	if err := c.do(ctx, http.MethodPost, "/onboard/", u, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return u, nil
	}
	return resp.Data, nil
}

// SyncProfile fetches the user and the score concurrently and derives the
// profile. Either failure fails the sync.
func (c *Client) SyncProfile(ctx context.Context, name string) (*Profile, error) {
	if name == "" {
		return nil, ErrNoUser
	}

	var (
		user  *User
		score float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := c.User(gctx, name)
		user = u
		return err
	})
	g.Go(func() error {
		s, err := c.Score(gctx, name)
		score = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := NewProfile(user, score, c.now().UnixMilli())
	c.log.Info("profile synced",
		zap.String("user", name),
		zap.Float64("score", p.Score),
		zap.String("monthly_net", p.MonthlyNet.StringFixed(2)),
		zap.Int("goals", len(p.Goals)))
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scoring request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Path: path, StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Sync failure reasons.
const (
	ReasonNoUser     = "no_user"
	ReasonAPIError   = "api_error"
	ReasonFetchError = "fetch_error"
)

// Reason maps a sync error to the short code reported to the page.
func Reason(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoUser):
		return ReasonNoUser
	case errors.As(err, &apiErr):
		return ReasonAPIError
	default:
		return ReasonFetchError
	}
}
