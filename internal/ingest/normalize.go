package ingest

import (
	"regexp"
	"strings"

	"catalog-sync/internal/model"
	"catalog-sync/internal/store"
)

var (
	priceRe      = regexp.MustCompile(`[0-9,]+\.?[0-9]*`)
	externalIDRe = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
	brandStopWords = map[string]bool{
		"best": true, "new": true, "latest": true,
		"premium": true, "original": true, "genuine": true,
	}
)

// NormalizeContext carries the search context an item was fetched under.
type NormalizeContext struct {
	Query    string
	Band     *model.PriceBand
	Position int
}

// Normalizer maps raw marketplace payloads to canonical products.
type Normalizer struct {
	// MinTitleLen rejects thin listings with meaningless titles.
	MinTitleLen int
	// PriceSanityFloor and ConversionRate drive the magnitude heuristic: a
	// parsed price below the floor is assumed to be in the source currency
	// and multiplied by the rate. Best-effort only; the payload carries no
	// reliable currency field.
	PriceSanityFloor float64
	ConversionRate   float64
	Currency         string

	Clock store.Clock
}

// Normalize converts a raw listing into a canonical product. A nil result
// means the item is not usable (missing price, short title, or no external
// identifier) and should be counted as failed, not raised as an error.
func (n *Normalizer) Normalize(raw model.RawListingItem, cat *model.Category, nctx NormalizeContext) *model.CanonicalProduct {
	title := strings.TrimSpace(raw.Title)
	if len(title) < n.MinTitleLen {
		return nil
	}

	externalID := raw.ExternalID
	if externalID == "" {
		if m := externalIDRe.FindStringSubmatch(raw.URL); m != nil {
			externalID = m[1]
		}
	}
	if externalID == "" {
		return nil
	}
	externalID = strings.ToUpper(externalID)

	price := ParsePrice(raw.PriceText)
	if price <= 0 {
		return nil
	}
	if n.PriceSanityFloor > 0 && price < n.PriceSanityFloor && n.ConversionRate > 0 {
		price = price * n.ConversionRate
	}

	now := n.Clock.Now()
	p := &model.CanonicalProduct{
		ExternalID:   externalID,
		Title:        title,
		Brand:        extractBrand(title),
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		Price:        price,
		Currency:     n.Currency,
		Rating: model.Rating{
			Average: raw.Rating,
			Count:   raw.Reviews,
		},
		URL:          raw.URL,
		Availability: normalizeAvailability(raw.Availability),
		Badges:       raw.Badges,
		Position:     nctx.Position,
		Sync: model.SyncMeta{
			ScrapedAt:   now,
			Status:      model.ItemSyncPending,
			SourceQuery: nctx.Query,
		},
	}
	if raw.ImageURL != "" && strings.HasPrefix(raw.ImageURL, "http") {
		p.Images = []string{raw.ImageURL}
		p.PrimaryImage = raw.ImageURL
	}
	if nctx.Band != nil {
		p.BandLabel = nctx.Band.Label
	}
	p.Quality = scoreQuality(p)
	return p
}

// ParsePrice extracts a numeric price from free-form price text, keeping
// only digits, commas, and the decimal separator. The last numeric run wins
// (price text often leads with a struck-through original price).
func ParsePrice(text string) float64 {
	matches := priceRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return 0
	}
	num := strings.ReplaceAll(matches[len(matches)-1], ",", "")

	var price float64
	var seenDot bool
	var frac float64 = 0.1
	for _, c := range num {
		switch {
		case c == '.':
			if seenDot {
				return price
			}
			seenDot = true
		case !seenDot:
			price = price*10 + float64(c-'0')
		default:
			price += float64(c-'0') * frac
			frac /= 10
		}
	}
	return price
}

// scoreQuality computes the weighted quality tier: rating level with review
// volume (0-40), review volume alone (0-30), badge presence (0-20), title
// length (0-10).
func scoreQuality(p *model.CanonicalProduct) model.QualityTier {
	score := 0

	avg, reviews := p.Rating.Average, p.Rating.Count
	switch {
	case avg >= 4.0 && reviews >= 100:
		score += 40
	case avg >= 3.5 && reviews >= 50:
		score += 30
	case avg >= 3.0:
		score += 20
	}

	switch {
	case reviews >= 1000:
		score += 30
	case reviews >= 100:
		score += 20
	case reviews >= 10:
		score += 10
	}

	if p.Badges.BestSeller {
		score += 10
	}
	if p.Badges.TopChoice {
		score += 10
	}

	switch {
	case len(p.Title) >= 50:
		score += 10
	case len(p.Title) >= 20:
		score += 5
	}

	switch {
	case score >= 70:
		return model.QualityHigh
	case score >= 40:
		return model.QualityMedium
	default:
		return model.QualityLow
	}
}

func extractBrand(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	first := strings.Trim(fields[0], "()[],")
	if brandStopWords[strings.ToLower(first)] {
		return ""
	}
	return first
}

func normalizeAvailability(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "out of stock"):
		return "out_of_stock"
	case strings.Contains(lower, "limited"):
		return "limited_stock"
	case strings.Contains(lower, "in stock"), strings.Contains(lower, "available"):
		return "in_stock"
	default:
		return "unknown"
	}
}
