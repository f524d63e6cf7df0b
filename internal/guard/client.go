package guard

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

	"github.com/go-playground/validator/v10"

	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/session"
)

var (
	// ErrMalformedResponse means the channel answered with a body that does
	// not decode into a valid Decision or error envelope.
	ErrMalformedResponse = errors.New("malformed entitlement response")
	// ErrRateLimited means the channel asked the caller to slow down.
	ErrRateLimited = errors.New("rate limited")
)

const maxBodyBytes = 64 << 10

// Client calls the privileged mutation channel over HTTP.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	validate *validator.Validate
	now      func() time.Time
}

// NewClient constructs a Client for baseURL (for example https://api.example.com/api/v1).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     httpClient,
		validate: validator.New(),
		now:      time.Now,
	}
}

// wireDecision mirrors the Decision JSON with pointers so missing fields are
// detected instead of defaulting to zero values.
type wireDecision struct {
	Allowed   *bool  `json:"allowed" validate:"required"`
	Remaining *int   `json:"remaining" validate:"required,min=-1"`
	Unbounded *bool  `json:"unbounded" validate:"required"`
	Reason    string `json:"reason" validate:"max=256"`
	ItemID    string `json:"itemId" validate:"max=128"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code" validate:"required"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CheckCreate(ctx context.Context, sess session.Session) (entitlement.Decision, error) {
	return c.call(ctx, sess, http.MethodGet, "/entitlements/create", "")
}

func (c *Client) ConsumeCreate(ctx context.Context, sess session.Session, idempotencyKey string) (entitlement.Decision, error) {
	return c.call(ctx, sess, http.MethodPost, "/entitlements/create/consume", idempotencyKey)
}

func (c *Client) CheckEdit(ctx context.Context, sess session.Session, itemID string) (entitlement.Decision, error) {
	return c.call(ctx, sess, http.MethodGet, "/entitlements/items/"+url.PathEscape(itemID)+"/edit", "")
}

func (c *Client) ConsumeEdit(ctx context.Context, sess session.Session, itemID, idempotencyKey string) (entitlement.Decision, error) {
	return c.call(ctx, sess, http.MethodPost, "/entitlements/items/"+url.PathEscape(itemID)+"/edit/consume", idempotencyKey)
}

func (c *Client) call(ctx context.Context, sess session.Session, method, path, idempotencyKey string) (entitlement.Decision, error) {
	if _, err := sess.Require(c.now()); err != nil {
		return entitlement.Deny(""), err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return entitlement.Deny(""), fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entitlement.Deny(""), ctxErr
		}
		return entitlement.Deny(""), fmt.Errorf("%w: %v", entitlement.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return entitlement.Deny(""), fmt.Errorf("%w: read body: %v", entitlement.ErrStoreUnavailable, err)
	}
	if resp.StatusCode == http.StatusOK {
		return c.decodeDecision(body)
	}
	return entitlement.Deny(""), c.decodeError(resp.StatusCode, body)
}

func (c *Client) decodeDecision(body []byte) (entitlement.Decision, error) {
	var w wireDecision
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&w); err != nil {
		return entitlement.Deny(""), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.validate.Struct(w); err != nil {
		return entitlement.Deny(""), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	d := entitlement.Decision{
		Allowed:   *w.Allowed,
		Remaining: *w.Remaining,
		Unbounded: *w.Unbounded,
		Reason:    w.Reason,
		ItemID:    w.ItemID,
	}
	switch {
	case d.Unbounded && (d.Remaining != -1 || !d.Allowed):
		return entitlement.Deny(""), fmt.Errorf("%w: unbounded decision must be allowed with remaining -1", ErrMalformedResponse)
	case !d.Unbounded && d.Remaining < 0:
		return entitlement.Deny(""), fmt.Errorf("%w: negative remaining %d", ErrMalformedResponse, d.Remaining)
	case !d.Allowed && d.Reason == "":
		return entitlement.Deny(""), fmt.Errorf("%w: denial without reason", ErrMalformedResponse)
	}
	return d, nil
}

func (c *Client) decodeError(status int, body []byte) error {
	var w wireError
	code := ""
	if err := json.Unmarshal(body, &w); err == nil && c.validate.Struct(w) == nil {
		code = w.Error.Code
	}

	switch {
	case status == http.StatusUnauthorized:
		return entitlement.ErrNotAuthenticated
	case status == http.StatusUnprocessableEntity && code == "unknown_plan":
		return entitlement.ErrUnknownPlan
	case status == http.StatusNotFound:
		return fmt.Errorf("item %w", quota.ErrNotFound)
	case status == http.StatusConflict:
		return entitlement.ErrConcurrentConflict
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", entitlement.ErrStoreUnavailable, status)
	case code == "":
		return fmt.Errorf("%w: status %d without error envelope", ErrMalformedResponse, status)
	default:
		return fmt.Errorf("entitlement channel error %d: %s", status, code)
	}
}
