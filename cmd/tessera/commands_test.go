package main

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"

	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
)

func parseCaptureFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
	addCaptureFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return fs
}

func TestCaptureParams(t *testing.T) {
	base := []string{"--bbox", "11.4,48.0,11.7,48.2", "--resolution", "5", "--out", "munich.tif"}

	tests := []struct {
		name    string
		args    []string
		check   func(*testing.T, domain.TileCaptureParams, capture.Format)
		wantErr error
	}{
		{
			name: "tile-aligned",
			check: func(t *testing.T, p domain.TileCaptureParams, f capture.Format) {
				if p.FitToQuad || p.MinImageSize != 0 {
					t.Errorf("params = %+v, want no fitting", p)
				}
				if f != capture.FormatTIFF {
					t.Errorf("format = %q, want tiff from the extension", f)
				}
				if len(p.Points) != 4 || p.Points[0] != domain.NewGeoPoint(48.2, 11.4) {
					t.Errorf("points = %v, want clockwise from the upper left", p.Points)
				}
			},
		},
		{
			name: "fit to quad",
			args: []string{"--fit-to-quad", "--aspect", "1.5", "--min-size", "2048", "--format", "png"},
			check: func(t *testing.T, p domain.TileCaptureParams, f capture.Format) {
				if !p.FitToQuad || p.MinImageSize != 2048 || p.FitAspect != 1.5 {
					t.Errorf("params = %+v, want fitted 2048 at 1.5", p)
				}
				if f != capture.FormatPNG {
					t.Errorf("format = %q, want png", f)
				}
			},
		},
		{name: "min size without fitting", args: []string{"--min-size", "2048"}, wantErr: domain.ErrInvalidCapture},
		{name: "aspect without fitting", args: []string{"--aspect", "2"}, wantErr: domain.ErrInvalidCapture},
		{name: "min size beyond limit", args: []string{"--fit-to-quad", "--min-size", "1073741824"}, wantErr: domain.ErrInvalidInput},
		{name: "unknown format", args: []string{"--format", "bmp"}, wantErr: domain.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := parseCaptureFlags(t, append(append([]string{}, base...), tt.args...)...)
			params, format, err := captureParams(fs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("captureParams() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("captureParams() error = %v", err)
			}
			tt.check(t, params, format)
		})
	}
}

func TestWorldFilePath(t *testing.T) {
	if got := worldFilePath("out/munich.png", capture.FormatPNG); got != "out/munich.pgw" {
		t.Errorf("worldFilePath() = %q", got)
	}
	if got := worldFilePath("de.tif", capture.FormatTIFF); got != "de.tfw" {
		t.Errorf("worldFilePath() = %q", got)
	}
}
