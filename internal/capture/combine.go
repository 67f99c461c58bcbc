package capture

import (
	"log/slog"

	"github.com/jobrunner/tessera/internal/bitmap"
	"github.com/jobrunner/tessera/internal/domain"
)

// Combine merges capturers into one. Each candidate must be compatible with
// the last one accepted; incompatible ones are skipped. Candidates are
// ordered back to front. It returns ErrNoImagery when none remain.
func Combine(candidates []*Capturer, pool *bitmap.Pool, logger *slog.Logger) (*Capturer, error) {
	var accepted []*Capturer
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if n := len(accepted); n > 0 && !accepted[n-1].Compatible(c) {
			logger.Debug("skipping incompatible capture source", "dataset", c.Reader().Name())
			continue
		}
		accepted = append(accepted, c)
	}

	switch len(accepted) {
	case 0:
		return nil, domain.ErrNoImagery
	case 1:
		return accepted[0], nil
	}

	readers := make([]TileReader, len(accepted))
	for i, c := range accepted {
		readers[i] = c.Reader()
	}
	return accepted[0].WithReader(NewMultiSource(readers, pool, logger)), nil
}
