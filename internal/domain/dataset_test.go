package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestDatasetDescriptorAttribution(t *testing.T) {
	tests := []struct {
		name string
		d    DatasetDescriptor
		want Attribution
	}{
		{
			name: "default category",
			d:    DatasetDescriptor{Extras: map[string]string{ExtraAttribution: "(c) Survey"}},
			want: Attribution{Category: "Imagery", Text: "(c) Survey"},
		},
		{
			name: "imagery type category",
			d: DatasetDescriptor{Extras: map[string]string{
				ExtraAttribution: "(c) Survey",
				ExtraImageryType: "Satellite",
			}},
			want: Attribution{Category: "Satellite", Text: "(c) Survey"},
		},
		{
			name: "nil extras",
			d:    DatasetDescriptor{},
			want: Attribution{Category: "Imagery"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Attribution(); got != tt.want {
				t.Errorf("Attribution() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDatasetDescriptorValidate(t *testing.T) {
	valid := DatasetDescriptor{
		Name:          "ortho",
		MinResolution: 100,
		MaxResolution: 1,
		Bounds:        NewGeoBounds(10, -10, -10, 10),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noName := valid
	noName.Name = " "
	if err := noName.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty name, got %v", err)
	}

	inverted := valid
	inverted.MinResolution = 0.5
	if err := inverted.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for inverted resolutions, got %v", err)
	}
}

func TestDatasetQueryMatches(t *testing.T) {
	d := DatasetDescriptor{
		Name:          "ortho",
		Provider:      "gpkg",
		Bounds:        NewGeoBounds(10, -10, -10, 10),
		MinResolution: 100,
		MaxResolution: 1,
		Visible:       true,
	}
	far := NewGeoBounds(50, 50, 40, 60)
	near := NewGeoBounds(5, 5, 0, 15)

	tests := []struct {
		name string
		q    DatasetQuery
		want bool
	}{
		{"empty query", DatasetQuery{}, true},
		{"intersecting bounds", DatasetQuery{Bounds: &near}, true},
		{"disjoint bounds", DatasetQuery{Bounds: &far}, false},
		{"name filter hit", DatasetQuery{Names: []string{"a", "ortho"}}, true},
		{"name filter miss", DatasetQuery{Names: []string{"a"}}, false},
		{"provider filter miss", DatasetQuery{Providers: []string{"wms"}}, false},
		{"resolution inside", DatasetQuery{MinGSD: 10, MaxGSD: 10}, true},
		{"resolution too fine", DatasetQuery{MinGSD: 0.5, MaxGSD: 0.5}, false},
		{"resolution too coarse", DatasetQuery{MinGSD: 500, MaxGSD: 500}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(d); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	hidden := d
	hidden.Visible = false
	if (DatasetQuery{VisibleOnly: true}).Matches(hidden) {
		t.Error("VisibleOnly query should exclude hidden dataset")
	}
}

func TestSortDatasetsCoarsestFirst(t *testing.T) {
	datasets := []DatasetDescriptor{
		{Name: "fine", URI: "a", MaxResolution: 1},
		{Name: "coarse", URI: "b", MaxResolution: 100},
		{Name: "mid-b", URI: "b", MaxResolution: 10},
		{Name: "mid-a", URI: "z", MaxResolution: 10},
		{Name: "mid-a", URI: "c", MaxResolution: 10},
	}

	SortDatasets(datasets, OrderCoarsestFirst)

	var got [][2]string
	for _, d := range datasets {
		got = append(got, [2]string{d.Name, d.URI})
	}
	want := [][2]string{{"coarse", "b"}, {"mid-a", "c"}, {"mid-a", "z"}, {"mid-b", "b"}, {"fine", "a"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortDatasets() = %v, want %v", got, want)
	}
}

func TestDatasetNames(t *testing.T) {
	names := DatasetNames([]DatasetDescriptor{{Name: "a"}, {Name: "b"}})
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("DatasetNames() = %v", names)
	}
}

func TestAttributionSet(t *testing.T) {
	datasets := []DatasetDescriptor{
		{Extras: map[string]string{ExtraAttribution: "B"}},
		{Extras: map[string]string{ExtraAttribution: "A"}},
		{Extras: map[string]string{ExtraAttribution: "A"}},
		{},
	}

	set := AttributionsOf(datasets)
	if len(set) != 2 {
		t.Fatalf("expected 2 distinct attributions, got %d", len(set))
	}

	sorted := set.Sorted()
	if sorted[0].Text != "A" || sorted[1].Text != "B" {
		t.Errorf("Sorted() = %v", sorted)
	}

	if !set.Equal(AttributionsOf(datasets[:2])) {
		t.Error("expected equal sets")
	}
	if set.Equal(AttributionsOf(datasets[:1])) {
		t.Error("expected sets to differ")
	}
}

func TestAttributionString(t *testing.T) {
	if got := (Attribution{Category: "Imagery", Text: "(c) Survey"}).String(); got != "Imagery: (c) Survey" {
		t.Errorf("String() = %q", got)
	}
	if got := (Attribution{Text: "(c) Survey"}).String(); got != "(c) Survey" {
		t.Errorf("String() = %q", got)
	}
}
