package marketplace

import (
	"context"
	"fmt"
	"net/url"

	"catalog-sync/internal/model"
)

// DetailClient looks up single listings by external identifier, used by the
// stale-item refresh sweep.
type DetailClient struct {
	client *Client
}

// NewDetailClient wraps a marketplace client for single-item lookup.
func NewDetailClient(client *Client) *DetailClient {
	return &DetailClient{client: client}
}

type detailResponse struct {
	Product model.RawListingItem `json:"product"`
}

// FetchDetail fetches the current payload for one listing.
func (d *DetailClient) FetchDetail(ctx context.Context, externalID string) (model.RawListingItem, error) {
	if externalID == "" {
		return model.RawListingItem{}, fmt.Errorf("fetch detail: empty external identifier")
	}

	params := url.Values{}
	params.Set("external_id", externalID)

	body, err := d.client.get(ctx, "/product", params)
	if err != nil {
		return model.RawListingItem{}, err
	}

	var resp detailResponse
	if err := decode(body, &resp); err != nil {
		return model.RawListingItem{}, &TransientError{Op: "detail " + externalID, Err: err}
	}
	if resp.Product.ExternalID == "" {
		resp.Product.ExternalID = externalID
	}
	return resp.Product, nil
}
