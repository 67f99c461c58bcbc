package projection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jobrunner/tessera/internal/domain"
)

// Provider resolves spatial reference ids to projections.
type Provider struct {
	mu          sync.RWMutex
	projections map[int]Projection
	logger      *slog.Logger
}

// NewProvider creates a provider with the built-in projections registered.
func NewProvider(logger *slog.Logger) *Provider {
	p := &Provider{
		projections: make(map[int]Projection),
		logger:      logger,
	}
	p.Register(Equirectangular{}, domain.SRIDFlatEarth)
	p.Register(WebMercator{}, domain.SRIDGoogleMercator)
	return p
}

// Register adds a projection under its own SRID and any aliases.
func (p *Provider) Register(proj Projection, aliases ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.projections[proj.SRID()] = proj
	for _, srid := range aliases {
		p.projections[srid] = proj
	}
}

// Lookup returns the projection registered for srid.
func (p *Provider) Lookup(srid int) (Projection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proj, ok := p.projections[srid]
	if !ok {
		return nil, fmt.Errorf("srid %d: %w", srid, domain.ErrUnsupportedProjection)
	}
	return proj, nil
}

// Resolve returns the projection for srid, falling back to equirectangular
// (EPSG:4326) for unknown ids.
func (p *Provider) Resolve(srid int) Projection {
	proj, err := p.Lookup(srid)
	if err != nil {
		p.logger.Warn("unsupported projection, using default", "srid", srid, "default", domain.SRIDWGS84)
		return Equirectangular{}
	}
	return proj
}

// Supports returns true if srid is registered.
func (p *Provider) Supports(srid int) bool {
	_, err := p.Lookup(srid)
	return err == nil
}
