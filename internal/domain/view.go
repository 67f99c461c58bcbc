package domain

// ViewState is an immutable snapshot of the map view taken at the start of a
// query pass.
type ViewState struct {
	Bounds           GeoBounds `json:"bounds"`
	Resolution       float64   `json:"resolution"` // display resolution, meters/pixel
	SRID             int       `json:"srid"`
	ContinuousScroll bool      `json:"continuous_scroll"`
	CrossesIDL       bool      `json:"crosses_idl"`
	Version          int64     `json:"version"`
}

// Validate checks the view is usable for a query pass.
func (v ViewState) Validate() error {
	if v.Resolution <= 0 {
		return &ValidationError{
			Field:      "resolution",
			Value:      v.Resolution,
			Constraint: "> 0",
			Message:    "display resolution must be positive",
		}
	}
	return v.Bounds.Validate()
}

// QueryWindows returns the geographic windows to query for this view. A view
// crossing the antimeridian yields a west-hemisphere window ending at +180 and
// an east-hemisphere window starting at -180.
func (v ViewState) QueryWindows() []GeoBounds {
	b := v.Bounds
	if !v.CrossesIDL {
		return []GeoBounds{b}
	}

	east := b.East
	if east < b.West {
		east += 360
	}
	west := b.West
	if west < -180 {
		west += 360
		east += 360
	}
	return []GeoBounds{
		{North: b.North, South: b.South, West: west, East: 180},
		{North: b.North, South: b.South, West: -180, East: east - 360},
	}
}

// Intersects returns true if the view overlaps the bounds, honoring wraparound.
func (v ViewState) Intersects(b GeoBounds) bool {
	for _, w := range v.QueryWindows() {
		if w.Intersects(b) {
			return true
		}
	}
	return false
}
