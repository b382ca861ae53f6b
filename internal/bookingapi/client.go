// Package bookingapi is the HTTP client for the booking backend: the
// remote side of queued cancellations and updates, and the ferry search
// that seeds the availability board.
package bookingapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
	"github.com/kimhsiao/ferrysync/backend/internal/models"
	syncpkg "github.com/kimhsiao/ferrysync/backend/internal/sync"
)

const (
	defaultUserAgent = "ferrysync/0.1"
	requestTimeout   = 10 * time.Second
	maxErrorBody     = 512
)

// Client talks to the booking REST API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient builds a Client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "parse api url", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, apperrors.Newf(apperrors.ErrConfig, "api url %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CancelBooking asks the backend to cancel a booking. It reports true once
// the backend accepted the cancellation.
func (c *Client) CancelBooking(ctx context.Context, bookingID int64) (bool, error) {
	p := "/bookings/" + strconv.FormatInt(bookingID, 10) + "/cancel"
	if err := c.do(ctx, http.MethodPost, p, nil, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateBooking sends a partial update for a booking.
func (c *Client) UpdateBooking(ctx context.Context, bookingID int64, changes map[string]interface{}) (bool, error) {
	p := "/bookings/" + strconv.FormatInt(bookingID, 10)
	if err := c.do(ctx, http.MethodPatch, p, nil, changes, nil); err != nil {
		return false, err
	}
	return true, nil
}

// SearchFerries returns the outbound and return sailings for a route on a
// date (YYYY-MM-DD).
func (c *Client) SearchFerries(ctx context.Context, route, date string) (models.SearchResults, error) {
	values := url.Values{}
	values.Set("route", route)
	if d := strings.TrimSpace(date); d != "" {
		values.Set("date", d)
	}
	var results models.SearchResults
	if err := c.do(ctx, http.MethodGet, "/ferries/search", values, nil, &results); err != nil {
		return models.SearchResults{}, err
	}
	return results, nil
}

// Effects returns the remote effects for every queued operation type.
func (c *Client) Effects() syncpkg.Effects {
	return syncpkg.Effects{
		models.OperationCancelBooking: syncpkg.RemoteEffectFunc(c.CancelBooking),
		models.OperationUpdateBooking: updateEffect{c},
	}
}

type updateEffect struct{ c *Client }

func (u updateEffect) Apply(ctx context.Context, op models.PendingOperation) (bool, error) {
	return u.c.UpdateBooking(ctx, op.SubjectID, op.Payload)
}

func (c *Client) do(ctx context.Context, method, rel string, query url.Values, body, dest any) error {
	reqURL := *c.baseURL
	reqURL.Path = path.Join("/", c.baseURL.Path, rel)
	reqURL.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrSerialization, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, method+" "+rel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("%s %s returned status %d", method, rel, resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "decode response", err)
	}
	return nil
}
