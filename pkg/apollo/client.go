// Package apollo is a wire client for the Apollo people enrichment API.
// Match responses carry emails synchronously; phone numbers arrive later
// through a webhook delivery (WebhookPayload).
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enrich/pkg/ratelimit"
)

// Default base URL for the Apollo API.
const defaultBaseURL = "https://api.apollo.io"

// Client defines the Apollo people enrichment operations.
type Client interface {
	MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error)
	BulkMatchPeople(ctx context.Context, req BulkMatchRequest) (*BulkMatchResponse, error)
}

// MatchRequest is the body for POST /api/v1/people/match.
type MatchRequest struct {
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	OrganizationName     string `json:"organization_name,omitempty"`
	RevealPersonalEmails bool   `json:"reveal_personal_emails"`
	RevealPhoneNumber    bool   `json:"reveal_phone_number"`
	WebhookURL           string `json:"webhook_url,omitempty"`
}

// MatchResponse is the response from POST /api/v1/people/match. Person is
// nil when nothing matched.
type MatchResponse struct {
	Person *PersonMatch `json:"person"`
}

// BulkMatchRequest is the body for POST /api/v1/people/bulk_match.
type BulkMatchRequest struct {
	RevealPersonalEmails bool          `json:"reveal_personal_emails"`
	RevealPhoneNumber    bool          `json:"reveal_phone_number"`
	WebhookURL           string        `json:"webhook_url,omitempty"`
	Details              []MatchDetail `json:"details"`
}

// MatchDetail identifies one person within a bulk request.
type MatchDetail struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// BulkMatchResponse is the response from POST /api/v1/people/bulk_match.
// Matches is positional against the submitted details; a null entry means
// the submission at that index was not matched.
type BulkMatchResponse struct {
	Status                    string         `json:"status,omitempty"`
	Matches                   []*PersonMatch `json:"matches"`
	TotalRequestedEnrichments int            `json:"total_requested_enrichments,omitempty"`
	UniqueEnrichedRecords     int            `json:"unique_enriched_records,omitempty"`
	CreditsConsumed           int            `json:"credits_consumed,omitempty"`
}

// PersonMatch is one matched person from the synchronous response.
type PersonMatch struct {
	ID           string        `json:"id,omitempty"`
	FirstName    string        `json:"first_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
	Name         string        `json:"name,omitempty"`
	Email        string        `json:"email,omitempty"`
	Title        string        `json:"title,omitempty"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers,omitempty"`
}

// PhoneNumber is one phone entry, present in both sync matches and webhook
// deliveries.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number,omitempty"`
	SanitizedNumber string `json:"sanitized_number,omitempty"`
	TypeCD          string `json:"type_cd,omitempty"`
	ConfidenceCD    string `json:"confidence_cd,omitempty"`
	DoNotCall       bool   `json:"do_not_call,omitempty"`
}

// WebhookPayload is the body Apollo POSTs to the callback URL once phone
// numbers resolve. Fields beyond these are preserved by the listener in the
// raw body, never interpreted here.
type WebhookPayload struct {
	Status                    string          `json:"status,omitempty"`
	People                    []WebhookPerson `json:"people"`
	TotalRequestedEnrichments int             `json:"total_requested_enrichments,omitempty"`
	UniqueEnrichedRecords     int             `json:"unique_enriched_records,omitempty"`
	CreditsConsumed           int             `json:"credits_consumed,omitempty"`
}

// WebhookPerson is one person entry in a webhook delivery.
type WebhookPerson struct {
	ID           string        `json:"id,omitempty"`
	FirstName    string        `json:"first_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
	Email        string        `json:"email,omitempty"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers,omitempty"`
}

// APIError is returned when Apollo responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the status code of the failed call.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfterDelay returns the server-supplied Retry-After delay, if any.
func (e *APIError) RetryAfterDelay() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithLimiter paces every request through the given limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	limiter *ratelimit.Limiter
	http    *http.Client
}

// NewClient creates a new Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	var resp MatchResponse
	if err := c.post(ctx, "/api/v1/people/match", req, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: match person")
	}
	return &resp, nil
}

func (c *httpClient) BulkMatchPeople(ctx context.Context, req BulkMatchRequest) (*BulkMatchResponse, error) {
	var resp BulkMatchResponse
	if err := c.post(ctx, "/api/v1/people/bulk_match", req, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: bulk match")
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(req.Context()); err != nil {
			return eris.Wrap(err, "acquire rate limit")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}

// parseRetryAfter interprets a Retry-After header as either delay-seconds
// or an HTTP date. Absent or unparseable values yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
