// Package lusha is a wire client for the Lusha person enrichment API.
// Responses are synchronous: emails and phones arrive in the same call.
package lusha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enrich/pkg/ratelimit"
)

// Default base URL for the Lusha v2 API.
const defaultBaseURL = "https://api.lusha.com"

// Client defines the Lusha person enrichment operations.
type Client interface {
	Person(ctx context.Context, req PersonRequest) (*PersonResponse, error)
	BulkPerson(ctx context.Context, req BulkRequest) (*BulkResponse, error)
}

// PersonRequest identifies one person for GET /v2/person.
type PersonRequest struct {
	FirstName   string
	LastName    string
	CompanyName string
}

// PersonResponse is the response from GET /v2/person.
type PersonResponse struct {
	Contact *Contact `json:"contact"`
}

// Contact pairs enriched data with a per-contact error message.
type Contact struct {
	Error string       `json:"error,omitempty"`
	Data  *ContactData `json:"data,omitempty"`
}

// BulkRequest is the body for POST /v2/person.
type BulkRequest struct {
	Contacts []BulkContactRequest `json:"contacts"`
	Metadata BulkMetadata         `json:"metadata"`
}

// BulkContactRequest identifies one person within a bulk request. ContactID
// is the caller's correlation key and comes back as the response map key.
type BulkContactRequest struct {
	ContactID string        `json:"contactId"`
	FullName  string        `json:"fullName"`
	Companies []BulkCompany `json:"companies,omitempty"`
}

// BulkCompany scopes a bulk lookup to one employer.
type BulkCompany struct {
	Name      string `json:"name"`
	IsCurrent bool   `json:"isCurrent"`
}

// BulkMetadata carries the reveal flags for a bulk request.
type BulkMetadata struct {
	RevealEmails   bool `json:"revealEmails"`
	RevealPhones   bool `json:"revealPhones"`
	PartialProfile bool `json:"partialProfile"`
}

// BulkResponse is the response from POST /v2/person. Contacts is keyed by
// the submitted contactId; ids absent from the map were not matched.
type BulkResponse struct {
	Contacts map[string]BulkContact `json:"contacts"`
}

// BulkContact is one entry of a bulk response.
type BulkContact struct {
	Error           string       `json:"error,omitempty"`
	IsCreditCharged bool         `json:"isCreditCharged,omitempty"`
	Data            *ContactData `json:"data,omitempty"`
}

// ContactData carries the enriched fields for one person.
type ContactData struct {
	FirstName      string         `json:"firstName,omitempty"`
	LastName       string         `json:"lastName,omitempty"`
	EmailAddresses []EmailAddress `json:"emailAddresses,omitempty"`
	PhoneNumbers   []PhoneNumber  `json:"phoneNumbers,omitempty"`
}

// EmailAddress is one email with its provider type tag.
type EmailAddress struct {
	Email           string `json:"email"`
	EmailType       string `json:"emailType,omitempty"`
	EmailConfidence string `json:"emailConfidence,omitempty"`
}

// PhoneNumber is one phone with its provider type tag and do-not-call flag.
type PhoneNumber struct {
	Number    string `json:"number"`
	PhoneType string `json:"phoneType,omitempty"`
	DoNotCall bool   `json:"doNotCall,omitempty"`
}

// APIError is returned when Lusha responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lusha: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a new Lusha client.
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

func (c *httpClient) Person(ctx context.Context, req PersonRequest) (*PersonResponse, error) {
	q := url.Values{}
	q.Set("firstName", req.FirstName)
	q.Set("lastName", req.LastName)
	q.Set("companyName", req.CompanyName)

	var resp PersonResponse
	if err := c.get(ctx, "/v2/person?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrap(err, "lusha: person")
	}
	return &resp, nil
}

func (c *httpClient) BulkPerson(ctx context.Context, req BulkRequest) (*BulkResponse, error) {
	var resp BulkResponse
	if err := c.post(ctx, "/v2/person", req, &resp); err != nil {
		return nil, eris.Wrap(err, "lusha: bulk person")
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
	req.Header.Set("api_key", c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("api_key", c.apiKey)

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
