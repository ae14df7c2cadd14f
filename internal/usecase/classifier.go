package usecase

import "bp-api-service/internal/domain/model"

// Classifier decides which processing tier handles an image. It is pure and
// deterministic: identical metadata and processing mode always yield the
// identical tier, so classification is reproducible for retries and tests.
//
// The processing mode is captured once at construction from PROCESS_HARD;
// it is never re-read mid-request.
type Classifier struct {
	forceHard bool
	maxBytes  int64
	maxPixels int
}

func NewClassifier(forceHard bool, maxBytes int64, maxPixels int) *Classifier {
	return &Classifier{forceHard: forceHard, maxBytes: maxBytes, maxPixels: maxPixels}
}

// Classify returns TierHard when the mode forces it, when the payload or
// resolution exceeds the configured thresholds, or when the format carries an
// alpha channel and needs the heavier model. Everything else goes light.
func (c *Classifier) Classify(meta model.ImageMeta) model.Tier {
	if c.forceHard {
		return model.TierHard
	}
	if meta.SizeBytes > c.maxBytes || meta.Pixels() > c.maxPixels {
		return model.TierHard
	}
	if meta.Format == "png" {
		return model.TierHard
	}
	return model.TierLight
}
