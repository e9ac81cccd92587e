package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrRateLimited means the metadata service pushed back; retry
	// later, unbounded, since pacing is not a failure.
	ErrRateLimited = errors.New("metadata service rate limited")
	// ErrProductNotFound is permanent for the given product id.
	ErrProductNotFound = errors.New("product not found")
	// ErrBadMetadata covers malformed responses. Treated as a hard
	// failure counted against the enrichment retry ceiling.
	ErrBadMetadata = errors.New("malformed metadata response")
)

// ProductMetadata is the display data enriching a ranking snapshot.
type ProductMetadata struct {
	Title        string  `json:"title"`
	ProductGroup string  `json:"product_group"`
	Price        string  `json:"price"`
	ImageSmall   string  `json:"image_small"`
	ImageMedium  string  `json:"image_medium"`
	ImageLarge   string  `json:"image_large"`
	Rating       float64 `json:"rating"`
}

// MetadataClient looks up product display data by id and locale.
type MetadataClient interface {
	Lookup(ctx context.Context, productID, locale string) (*ProductMetadata, error)
}

// HTTPMetadataClient calls the product-metadata API over HTTP,
// self-pacing to the service's mandated minimum inter-call spacing.
type HTTPMetadataClient struct {
	client   *resty.Client
	endpoint string
	pacer    *Pacer
}

// NewHTTPMetadataClient builds a client for the given endpoint. The
// spacing is enforced caller-side: concurrent lookups queue on the
// pacer instead of bursting.
func NewHTTPMetadataClient(endpoint string, spacing time.Duration) *HTTPMetadataClient {
	return &HTTPMetadataClient{
		client:   resty.New().SetTimeout(10 * time.Second),
		endpoint: endpoint,
		pacer:    NewPacer(spacing),
	}
}

// Lookup fetches title, group, price, images and rating for a product.
func (c *HTTPMetadataClient) Lookup(ctx context.Context, productID, locale string) (*ProductMetadata, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var meta ProductMetadata
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id", productID).
		SetQueryParam("locale", locale).
		SetResult(&meta).
		Get(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup %s: %w", productID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, productID)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	default:
		return nil, fmt.Errorf("%w: %s: status %d", ErrBadMetadata, productID, resp.StatusCode())
	}

	if meta.Title == "" {
		return nil, fmt.Errorf("%w: %s: missing title", ErrBadMetadata, productID)
	}
	return &meta, nil
}
