package marketplace

import (
	"context"
	"net/url"
	"strconv"

	"catalog-sync/internal/model"
)

// SearchClient runs paginated queries against the marketplace search API.
type SearchClient struct {
	client *Client
}

// NewSearchClient wraps a marketplace client for paginated search.
func NewSearchClient(client *Client) *SearchClient {
	return &SearchClient{client: client}
}

type searchResponse struct {
	Results []model.RawListingItem `json:"results"`
}

// SearchPage fetches one page of listings for a query. An empty result set
// signals end-of-pages; errors are transient or terminal per the taxonomy.
func (s *SearchClient) SearchPage(ctx context.Context, query string, page int, locale string) ([]model.RawListingItem, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("locale", locale)
	params.Set("language", "en")

	body, err := s.client.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := decode(body, &resp); err != nil {
		return nil, &TransientError{Op: "search " + query, Err: err}
	}
	return resp.Results, nil
}
