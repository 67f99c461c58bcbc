package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Stitch the imagery under a bounding box into one image",
	Example: `  tessera capture --bbox 11.4,48.0,11.7,48.2 --resolution 5 --out munich.png
  tessera capture --bbox 5.8,47.2,15.1,55.1 --level 6 --format tiff --out de.tif
  tessera capture --bbox 11.4,48.0,11.7,48.2 --resolution 5 --fit-to-quad --aspect 1.5 --min-size 2048 --out munich.png`,
	RunE: runCapture,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the cataloged datasets",
	RunE:  runDatasets,
}

func init() {
	addCaptureFlags(captureCmd.Flags())
	_ = captureCmd.MarkFlagRequired("bbox")
	_ = captureCmd.MarkFlagRequired("out")

	datasetsCmd.Flags().String("bbox", "", "only datasets intersecting west,south,east,north")
	datasetsCmd.Flags().Float64("resolution", 0, "only datasets displayable at this resolution")
	datasetsCmd.Flags().Bool("visible", false, "only visible datasets")
}

func runCapture(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	out, _ := f.GetString("out")
	params, format, err := captureParams(f)
	if err != nil {
		return err
	}
	datasets, _ := f.GetStringSlice("datasets")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadOffline(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	file, err := os.Create(out)
	if err != nil {
		return err
	}
	result, err := a.CaptureService.Capture(ctx, input.CaptureRequest{
		Params:   params,
		Format:   format,
		Datasets: datasets,
	}, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("capture failed: %w", err)
	}

	// warped captures are not north-up and have no world file
	if result.WorldFile != "" {
		if err := os.WriteFile(worldFilePath(out, format), []byte(result.WorldFile), 0o644); err != nil {
			return fmt.Errorf("writing world file: %w", err)
		}
	}

	fmt.Printf("%s: level %d, %dx%d pixels, %d tiles (%d missing) from %s in %s\n",
		out, result.Bounds.Level, result.Bounds.ImageWidth, result.Bounds.ImageHeight,
		result.Tiles, result.Missing, strings.Join(result.Datasets, ", "), result.Duration)
	return nil
}

func addCaptureFlags(f *pflag.FlagSet) {
	f.String("bbox", "", "west,south,east,north in degrees")
	f.Int("level", domain.AutoLevel, "pyramid level, -1 selects from --resolution")
	f.Float64("resolution", 0, "map resolution in meters/pixel")
	f.Int("capture-resolution", 1, "capture resolution factor (1..5)")
	f.Bool("fit-to-quad", false, "warp the tiles onto the exact bbox instead of the tile-aligned extent")
	f.Float64("aspect", 1, "output width/height ratio with --fit-to-quad")
	f.Int("min-size", 0, "minimum edge length of the output in pixels with --fit-to-quad")
	f.String("format", "", "output format (png, tiff); derived from --out when empty")
	f.StringSlice("datasets", nil, "restrict to these datasets")
	f.String("out", "", "output file")
}

// captureParams builds the capture parameters and output format from the
// capture command's flags.
func captureParams(f *pflag.FlagSet) (domain.TileCaptureParams, capture.Format, error) {
	bboxArg, _ := f.GetString("bbox")
	out, _ := f.GetString("out")
	formatArg, _ := f.GetString("format")

	bbox, err := domain.ParseBBox(bboxArg)
	if err != nil {
		return domain.TileCaptureParams{}, "", err
	}
	if formatArg == "" {
		formatArg = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
	}
	format, err := capture.ParseFormat(formatArg)
	if err != nil {
		return domain.TileCaptureParams{}, "", err
	}

	params := domain.NewTileCaptureParams([]domain.GeoPoint{
		domain.NewGeoPoint(bbox.North, bbox.West),
		domain.NewGeoPoint(bbox.North, bbox.East),
		domain.NewGeoPoint(bbox.South, bbox.East),
		domain.NewGeoPoint(bbox.South, bbox.West),
	}, true)
	params.Level, _ = f.GetInt("level")
	params.MapResolution, _ = f.GetFloat64("resolution")
	params.CaptureResolution, _ = f.GetInt("capture-resolution")
	params.FitToQuad, _ = f.GetBool("fit-to-quad")

	if !params.FitToQuad && (f.Changed("min-size") || f.Changed("aspect")) {
		return domain.TileCaptureParams{}, "", fmt.Errorf("--min-size and --aspect require --fit-to-quad: %w", domain.ErrInvalidCapture)
	}
	params.FitAspect, _ = f.GetFloat64("aspect")
	params.MinImageSize, _ = f.GetInt("min-size")

	if err := params.Validate(); err != nil {
		return domain.TileCaptureParams{}, "", err
	}
	return params, format, nil
}

func worldFilePath(out string, format capture.Format) string {
	return strings.TrimSuffix(out, filepath.Ext(out)) + "." + format.WorldFileExtension()
}

func runDatasets(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	q := domain.DatasetQuery{Order: domain.OrderCoarsestFirst}
	if v, _ := f.GetString("bbox"); v != "" {
		b, err := domain.ParseBBox(v)
		if err != nil {
			return err
		}
		q.Bounds = &b
	}
	if res, _ := f.GetFloat64("resolution"); res > 0 {
		q.MinGSD, q.MaxGSD = res, res
	}
	q.VisibleOnly, _ = f.GetBool("visible")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadOffline(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	datasets, err := a.DatasetService.ListDatasets(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROVIDER\tSRID\tRESOLUTION (m/px)\tBOUNDS (N,W,S,E)\tVISIBLE")
	for _, d := range datasets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f..%.2f\t%.4f,%.4f,%.4f,%.4f\t%t\n",
			d.Name, d.Provider, d.SRID, d.MaxResolution, d.MinResolution,
			d.Bounds.North, d.Bounds.West, d.Bounds.South, d.Bounds.East, d.Visible)
	}
	return w.Flush()
}
