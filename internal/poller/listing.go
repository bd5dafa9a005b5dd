package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"recording-relay/internal/circuitbreaker"
	"recording-relay/internal/common/errors"
	commonhttp "recording-relay/internal/common/http"
	"recording-relay/internal/models"
)

// maxListingBytes caps how much of a listing response is read
const maxListingBytes = 32 << 20

// ListingClient performs the authenticated listing call
type ListingClient struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.GoBreakerAdapter
}

// NewListingClient builds the request URL once from the endpoint and the static query.
// breaker may be nil.
func NewListingClient(endpoint, query string, client *http.Client, breaker *circuitbreaker.GoBreakerAdapter) (*ListingClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid listing url: %v", err))
	}
	if query != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + query
		} else {
			u.RawQuery = query
		}
	}
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}

	return &ListingClient{endpoint: u.String(), client: client, breaker: breaker}, nil
}

// URL returns the full listing URL including the static query
func (c *ListingClient) URL() string {
	return c.endpoint
}

// List issues one GET and returns the raw body. Every failure is a listing request error.
func (c *ListingClient) List(ctx context.Context, token string) ([]byte, error) {
	var body []byte
	call := func() error {
		var err error
		body, err = c.do(ctx, token)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.IsType(err, errors.ErrTypeListingRequest) {
			return nil, err
		}
		return nil, errors.ListingRequestError("listing call failed", err)
	}
	return body, nil
}

func (c *ListingClient) do(ctx context.Context, token string) ([]byte, error) {
	req, err := commonhttp.NewBearerRequest(ctx, c.endpoint, token, "application/json")
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ConnectionError("listing request failed", err)
	}
	defer commonhttp.Drain(resp.Body)

	if err := commonhttp.CheckStatus(resp); err != nil {
		return nil, errors.ListingRequestError("listing endpoint returned an error", err).
			WithCode(strconv.Itoa(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes+1))
	if err != nil {
		return nil, errors.ConnectionError("failed to read listing response", err)
	}
	if len(body) > maxListingBytes {
		return nil, errors.ListingRequestError(
			fmt.Sprintf("listing response too large, limit is %d bytes", maxListingBytes), nil)
	}
	return body, nil
}

// flexString accepts a JSON string, number or null. Listing ids and extension
// numbers arrive as either depending on the account.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*f = flexString(n.String())
		return nil
	}
}

type listingResponse struct {
	Recordings []listingEntry `json:"recordings"`
}

type listingEntry struct {
	ID           flexString `json:"id"`
	CalleeNumber flexString `json:"callee_number"`
	CallerNumber flexString `json:"caller_number"`
	DateTime     flexString `json:"date_time"`
	Owner        *struct {
		ExtensionNumber flexString `json:"extension_number"`
	} `json:"owner"`
	DownloadURL flexString `json:"download_url"`
}

func (e listingEntry) recording() models.Recording {
	rec := models.Recording{
		ID:          string(e.ID),
		Caller:      string(e.CallerNumber),
		Callee:      string(e.CalleeNumber),
		Timestamp:   string(e.DateTime),
		DownloadURL: string(e.DownloadURL),
	}
	if e.Owner != nil {
		rec.OwnerExtension = string(e.Owner.ExtensionNumber)
	}
	return rec
}

// ParseListing projects the listing body onto recordings in array order.
// Missing fields become empty strings; malformed JSON is a listing parse error.
func ParseListing(body []byte) ([]models.Recording, error) {
	var resp listingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.ListingParseError("malformed listing response", err)
	}

	recordings := make([]models.Recording, len(resp.Recordings))
	for i, entry := range resp.Recordings {
		recordings[i] = entry.recording()
	}
	return recordings, nil
}

// Items yields recordings lazily, stopping early when the consumer does
func Items(recordings []models.Recording) iter.Seq[models.Recording] {
	return func(yield func(models.Recording) bool) {
		for _, rec := range recordings {
			if !yield(rec) {
				return
			}
		}
	}
}
