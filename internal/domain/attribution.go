package domain

import "sort"

// Attribution is a (category, text) pair displayed for the imagery in view.
type Attribution struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// IsEmpty returns true if no attribution text is set.
func (a Attribution) IsEmpty() bool {
	return a.Text == ""
}

// String returns the attribution as "category: text".
func (a Attribution) String() string {
	if a.Category == "" {
		return a.Text
	}
	return a.Category + ": " + a.Text
}

// AttributionSet is a set of distinct attributions.
type AttributionSet map[Attribution]struct{}

// AttributionsOf collects the distinct non-empty attributions of the datasets.
func AttributionsOf(datasets []DatasetDescriptor) AttributionSet {
	set := make(AttributionSet)
	for _, d := range datasets {
		if a := d.Attribution(); !a.IsEmpty() {
			set[a] = struct{}{}
		}
	}
	return set
}

// Equal returns true if both sets hold the same attributions.
func (s AttributionSet) Equal(o AttributionSet) bool {
	if len(s) != len(o) {
		return false
	}
	for a := range s {
		if _, ok := o[a]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the attributions ordered by category then text.
func (s AttributionSet) Sorted() []Attribution {
	out := make([]Attribution, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Text < out[j].Text
	})
	return out
}
