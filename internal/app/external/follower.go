// Package external holds clients for the two external capabilities the
// pipeline depends on: the link-follow fetch and the product-metadata
// API.
package external

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrFetchFailed covers timeout, deadline and transport failures of a
// link-follow fetch. Retryable: the URL stays unresolved and is
// re-attempted on its own schedule.
var ErrFetchFailed = errors.New("url fetch failed")

// LinkFollower reports the final URL a raw/shortened URL redirects to.
type LinkFollower interface {
	Follow(ctx context.Context, rawURL string) (string, error)
}

// HTTPFollower follows redirects with a HEAD request under a hard
// per-call deadline.
type HTTPFollower struct {
	client   *resty.Client
	deadline time.Duration
}

// NewHTTPFollower builds a follower with the given per-fetch deadline.
func NewHTTPFollower(deadline time.Duration) *HTTPFollower {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &HTTPFollower{
		client:   resty.New().SetTimeout(deadline),
		deadline: deadline,
	}
}

// Follow issues the HEAD fetch and returns the URL of the final
// response. Any transport or deadline error maps to ErrFetchFailed.
func (f *HTTPFollower) Follow(ctx context.Context, rawURL string) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.deadline)
	defer cancel()

	resp, err := f.client.R().SetContext(callCtx).Head(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}

	final := resp.RawResponse.Request.URL.String()
	if final == "" {
		// No redirect happened; the raw URL is the final one.
		final = rawURL
	}
	return final, nil
}
