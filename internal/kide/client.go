package kide

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

	"github.com/example/kiderace/internal/race"
)

const (
	DefaultBaseURL   = "https://api.kide.app/api"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxConns  = 10
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) kiderace/1.0"

	// EventURLPrefix is the public event page address; the event id follows it.
	EventURLPrefix = "https://kide.app/events/"
)

var (
	ErrUnauthorized  = errors.New("kide: credential rejected")
	ErrEventNotFound = errors.New("kide: event not found")
)

// Client talks to the Kide.app API. One Client is shared by every concurrent
// poll and reservation attempt of a race.
type Client struct {
	hc   *http.Client
	base string
	ua   string
}

type Options struct {
	BaseURL string
	// Timeout bounds each individual request.
	Timeout time.Duration
	// MaxConns caps connections to the API host. Higher limits may get
	// the client flagged.
	MaxConns  int
	UserAgent string
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxConnsPerHost = opts.MaxConns
	tr.MaxIdleConnsPerHost = opts.MaxConns

	return &Client{
		hc:   &http.Client{Timeout: opts.Timeout, Transport: tr},
		base: strings.TrimRight(opts.BaseURL, "/"),
		ua:   opts.UserAgent,
	}
}

// Product is the sale metadata of an event.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SalesFrom time.Time `json:"dateSalesFrom"`
}

type productResponse struct {
	Model *struct {
		Product  *Product        `json:"product"`
		Variants *[]race.Variant `json:"variants"`
	} `json:"model"`
}

type userResponse struct {
	Model struct {
		FullName string `json:"fullName"`
	} `json:"model"`
}

type reservationRequest struct {
	ToCreate []reservationItem `json:"toCreate"`
}

type reservationItem struct {
	InventoryID string `json:"inventoryId"`
	Quantity    int    `json:"quantity"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ValidateUser checks the credential and returns the account's full name,
// or "???" when the API does not include one.
func (c *Client) ValidateUser(ctx context.Context, cred race.Credential) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/authentication/user", cred, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w (status=%d)", ErrUnauthorized, status)
	}
	var r userResponse
	if err := json.Unmarshal(body, &r); err != nil || r.Model.FullName == "" {
		return "???", nil
	}
	return r.Model.FullName, nil
}

// Product fetches the event's sale metadata.
func (c *Client) Product(ctx context.Context, eventID string) (Product, error) {
	status, body, err := c.do(ctx, http.MethodGet, productPath(eventID), "", nil)
	if err != nil {
		return Product{}, err
	}
	if status != http.StatusOK {
		return Product{}, fmt.Errorf("%w: %s (status=%d)", ErrEventNotFound, eventID, status)
	}
	var r productResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Product{}, fmt.Errorf("%w: product: %w", race.ErrDecode, err)
	}
	if r.Model == nil || r.Model.Product == nil || r.Model.Product.Name == "" {
		return Product{}, fmt.Errorf("%w: product name and sales start missing", race.ErrDecode)
	}
	p := *r.Model.Product
	if p.ID == "" {
		p.ID = eventID
	}
	return p, nil
}

// Variants implements race.InventorySource. The API always sends a variants
// list; an absent one is treated as a malformed body.
func (c *Client) Variants(ctx context.Context, eventID string) ([]race.Variant, error) {
	status, body, err := c.do(ctx, http.MethodGet, productPath(eventID), "", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, statusError(status, body)
	}
	var r productResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: variants: %w", race.ErrDecode, err)
	}
	if r.Model == nil || r.Model.Variants == nil {
		return nil, fmt.Errorf("%w: variants missing", race.ErrDecode)
	}
	return *r.Model.Variants, nil
}

// Allocate implements race.Allocator.
func (c *Client) Allocate(ctx context.Context, cred race.Credential, a race.Allocation) (int, error) {
	b, err := json.Marshal(reservationRequest{
		ToCreate: []reservationItem{{InventoryID: a.InventoryID, Quantity: a.Quantity}},
	})
	if err != nil {
		return 0, err
	}
	status, body, err := c.do(ctx, http.MethodPost, "/reservations", cred, b)
	if err != nil {
		return status, err
	}
	if status < 200 || status > 299 {
		return status, statusError(status, body)
	}
	// A 200 carrying an HTML interstitial never reached the reservation API.
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		return status, fmt.Errorf("%w: reservation response is not JSON", race.ErrDecode)
	}
	return status, nil
}

// ParseEventID accepts a bare event id or an event page URL.
func ParseEventID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, EventURLPrefix); i >= 0 {
		s = s[i+len(EventURLPrefix):]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	if s == "" {
		return "", errors.New("kide: empty event id")
	}
	if strings.ContainsAny(s, "/ ") {
		return "", fmt.Errorf("kide: malformed event id %q", s)
	}
	return s, nil
}

func productPath(eventID string) string {
	return "/products/" + url.PathEscape(eventID)
}

func statusError(status int, body []byte) error {
	var r errorResponse
	_ = json.Unmarshal(body, &r)
	msg := r.Message
	if msg == "" {
		msg = r.Error
	}
	return &race.StatusError{Code: status, Message: msg}
}

func (c *Client) do(ctx context.Context, method, path string, cred race.Credential, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "*")
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("User-Agent", c.ua)
	if cred != "" {
		req.Header.Set("Authorization", string(cred))
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", race.ErrTransport, method, path, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: read body: %w", race.ErrTransport, err)
	}
	return res.StatusCode, b, nil
}
