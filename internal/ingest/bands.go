package ingest

import (
	"fmt"

	"catalog-sync/internal/model"
)

// GenerateBands partitions [min, max) into contiguous half-open bands of
// width step. The final band is clipped to max even if short.
func GenerateBands(min, max, step float64) ([]model.PriceBand, error) {
	if min >= max {
		return nil, configErrorf("band domain invalid: min %.2f >= max %.2f", min, max)
	}
	if step <= 0 {
		return nil, configErrorf("band step must be positive, got %.2f", step)
	}

	var bands []model.PriceBand
	for lo := min; lo < max; lo += step {
		hi := lo + step
		if hi > max {
			hi = max
		}
		bands = append(bands, model.PriceBand{
			Label:     fmt.Sprintf("under_%d", int(hi)),
			Min:       lo,
			Max:       hi,
			QueryHint: fmt.Sprintf("under %d", int(hi)),
		})
	}
	return bands, nil
}

// BandsFor resolves a category's bands: an explicit band list is used
// verbatim, otherwise bands are generated from the price domain.
func BandsFor(c *model.Category) ([]model.PriceBand, error) {
	if len(c.Bands) > 0 {
		if err := validateBands(c.Bands); err != nil {
			return nil, err
		}
		return c.Bands, nil
	}
	return GenerateBands(c.Domain.Min, c.Domain.Max, c.Domain.Step)
}

func validateBands(bands []model.PriceBand) error {
	for i, b := range bands {
		if b.Min >= b.Max {
			return configErrorf("band %q invalid: min %.2f >= max %.2f", b.Label, b.Min, b.Max)
		}
		if i > 0 && bands[i-1].Max != b.Min {
			return configErrorf("bands %q and %q are not contiguous", bands[i-1].Label, b.Label)
		}
	}
	return nil
}
