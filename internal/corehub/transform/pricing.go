package transform

import "math"

// Tile-based image pricing mirrors the provider's token accounting: images
// whose effective dimensions both fit within one small tile are billed a
// flat rate; everything else is billed per 768px tile.
const (
	tileSizePixels        = 768
	smallImageMaxSide     = 384
	smallImageFlatTokens  = 258
	tokensPerTile         = 258
	imageTokenRateUSD     = 0.00000258
	videoPerSecondRateUSD = 0.40
)

// PricingQuote is attached to a transform result so callers can surface
// cost without re-deriving it from raw dimensions/duration.
type PricingQuote struct {
	Kind      string  `json:"kind"`
	UnitCount float64 `json:"unit_count"`
	Rate      float64 `json:"rate"`
	TotalUSD  float64 `json:"total_usd"`
}

// calculateImageTokens applies the tile-based token formula: small images
// (both effective dimensions <= 384px after resolutionMultiplier scaling)
// are billed a flat rate; otherwise tokens scale with the number of 768px
// tiles needed to cover the image.
func calculateImageTokens(width, height int, resolutionMultiplier float64) int {
	if width <= 0 || height <= 0 {
		return smallImageFlatTokens
	}
	if resolutionMultiplier <= 0 {
		resolutionMultiplier = 1.0
	}
	effW := float64(width) * resolutionMultiplier
	effH := float64(height) * resolutionMultiplier
	if effW <= smallImageMaxSide && effH <= smallImageMaxSide {
		return smallImageFlatTokens
	}
	tilesX := int(math.Ceil(effW / tileSizePixels))
	tilesY := int(math.Ceil(effH / tileSizePixels))
	if tilesX < 1 {
		tilesX = 1
	}
	if tilesY < 1 {
		tilesY = 1
	}
	return tilesX * tilesY * tokensPerTile
}

func imagePricingQuote(tokens int) PricingQuote {
	total := float64(tokens) * imageTokenRateUSD
	return PricingQuote{Kind: "image_tokens", UnitCount: float64(tokens), Rate: imageTokenRateUSD, TotalUSD: round6(total)}
}

func videoPricingQuote(durationSeconds int) PricingQuote {
	total := float64(durationSeconds) * videoPerSecondRateUSD
	return PricingQuote{Kind: "video_seconds", UnitCount: float64(durationSeconds), Rate: videoPerSecondRateUSD, TotalUSD: round6(total)}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
