package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/tessera/internal/application"
	"github.com/jobrunner/tessera/internal/capture"
	"github.com/jobrunner/tessera/internal/domain"
	"github.com/jobrunner/tessera/internal/ports/input"
)

const maxBodyBytes = 1 << 20

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"archives_loaded": details.ArchivesLoaded,
		"archives_ready":  details.ArchivesReady,
		"datasets_loaded": details.DatasetsLoaded,
		"components":      details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListArchives returns all registered archives.
func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.services.Archives.ListArchives(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "Failed to list archives")
		return
	}

	response := make([]map[string]interface{}, len(archives))
	for i := range archives {
		response[i] = s.formatArchive(r.Context(), &archives[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"archives": response,
		"count":    len(archives),
	})
}

// handleGetArchive returns a specific archive with its datasets.
func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	archiveID := mux.Vars(r)["archiveId"]

	archive, err := s.services.Archives.GetArchive(r.Context(), archiveID)
	if err != nil {
		s.writeServiceError(w, err, "Failed to get archive")
		return
	}

	response := s.formatArchive(r.Context(), archive)
	response["datasets"] = archive.Datasets
	s.writeJSON(w, http.StatusOK, response)
}

// handleListDatasets lists cataloged datasets. Optional filters: bbox
// (west,south,east,north), resolution in meters/pixel, provider, visible,
// order (coarsest|name) and limit.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	q, err := parseDatasetQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	datasets, err := s.services.Datasets.ListDatasets(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, err, "Failed to list datasets")
		return
	}
	if datasets == nil {
		datasets = []domain.DatasetDescriptor{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"count":    len(datasets),
	})
}

// handleGetDataset returns one dataset descriptor.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.services.Datasets.GetDataset(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeServiceError(w, err, "Failed to get dataset")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// handleSetVisibility shows or hides a dataset.
func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Visible == nil {
		s.writeError(w, http.StatusBadRequest, "visible is required")
		return
	}

	name := mux.Vars(r)["name"]
	if err := s.services.Datasets.SetVisible(r.Context(), name, *body.Visible); err != nil {
		s.writeServiceError(w, err, "Failed to change visibility")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"visible": *body.Visible,
	})
}

// handleOverview renders a dataset overview as PNG.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	req := input.OverviewRequest{
		Dataset:    mux.Vars(r)["name"],
		Scale:      1,
		SampleSize: 1,
	}

	q := r.URL.Query()
	var err error
	if v := q.Get("scale"); v != "" {
		if req.Scale, err = strconv.ParseFloat(v, 64); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid scale parameter")
			return
		}
	}
	if v := q.Get("sample"); v != "" {
		if req.SampleSize, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid sample parameter")
			return
		}
	}
	if v := q.Get("lat"); v != "" {
		if req.Lat, err = strconv.ParseFloat(v, 64); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid lat parameter")
			return
		}
	}

	img, err := s.services.Datasets.Overview(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err, "Failed to render overview")
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.logger.Error("failed to encode overview", "dataset", req.Dataset, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to encode overview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// handleSetView moves the map view of the live layer.
func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var view domain.ViewState
	if err := decodeBody(w, r, &view); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stamped, err := s.services.View.SetView(r.Context(), view)
	if err != nil {
		s.writeServiceError(w, err, "Failed to set view")
		return
	}
	s.writeJSON(w, http.StatusOK, stamped)
}

// handleLayer returns the live layer status.
func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.services.View.LayerStatus(r.Context()))
}

// handleSetSelection pins the layer to a dataset.
func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dataset string `json:"dataset"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.services.View.SetSelection(r.Context(), body.Dataset); err != nil {
		s.writeServiceError(w, err, "Failed to set selection")
		return
	}
	s.writeJSON(w, http.StatusOK, s.services.View.LayerStatus(r.Context()))
}

// handleSetTransparency sets the opacity of a dataset.
func (s *Server) handleSetTransparency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dataset string   `json:"dataset"`
		Alpha   *float64 `json:"alpha"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Dataset == "" || body.Alpha == nil {
		s.writeError(w, http.StatusBadRequest, "dataset and alpha are required")
		return
	}

	if err := s.services.View.SetTransparency(r.Context(), body.Dataset, *body.Alpha); err != nil {
		s.writeServiceError(w, err, "Failed to set transparency")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset": body.Dataset,
		"alpha":   *body.Alpha,
	})
}

// handleSetOffline switches the cache mode of the live layer.
func (s *Server) handleSetOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offline bool   `json:"offline"`
		Refresh string `json:"refresh_interval"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var refresh time.Duration
	if body.Refresh != "" {
		d, err := time.ParseDuration(body.Refresh)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid refresh_interval")
			return
		}
		refresh = d
	}

	if err := s.services.View.SetOffline(r.Context(), body.Offline, refresh); err != nil {
		s.writeServiceError(w, err, "Failed to set cache mode")
		return
	}
	s.writeJSON(w, http.StatusOK, s.services.View.LayerStatus(r.Context()))
}

// captureBody is the JSON body of capture requests.
type captureBody struct {
	Points            []domain.GeoPoint `json:"points"`
	Closed            bool              `json:"closed"`
	Level             *int              `json:"level"`
	MapResolution     float64           `json:"map_resolution"`
	CaptureResolution int               `json:"capture_resolution"`
	FitToQuad         bool              `json:"fit_to_quad"`
	FitAspect         float64           `json:"fit_aspect"`
	MinImageSize      int               `json:"min_image_size"`
	Datasets          []string          `json:"datasets"`
	Format            string            `json:"format"`
}

// request converts the body to a capture request. The format query
// parameter wins over the body's.
func (b captureBody) request(r *http.Request) (input.CaptureRequest, error) {
	params := domain.NewTileCaptureParams(b.Points, b.Closed)
	if b.Level != nil {
		params.Level = *b.Level
	}
	params.MapResolution = b.MapResolution
	if b.CaptureResolution != 0 {
		params.CaptureResolution = b.CaptureResolution
	}
	params.FitToQuad = b.FitToQuad
	if b.FitAspect != 0 {
		params.FitAspect = b.FitAspect
	}
	params.MinImageSize = b.MinImageSize

	name := b.Format
	if v := r.URL.Query().Get("format"); v != "" {
		name = v
	}
	format, err := capture.ParseFormat(strings.ToLower(name))
	if err != nil {
		return input.CaptureRequest{}, err
	}

	return input.CaptureRequest{Params: params, Format: format, Datasets: b.Datasets}, nil
}

// handleCapture stitches a capture and returns the encoded image. The image
// is buffered so that a failed capture still gets a JSON error response.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseCapture(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	result, err := s.services.Capture.Capture(r.Context(), req, &buf)
	if err != nil {
		s.writeServiceError(w, err, "Capture failed")
		return
	}

	h := w.Header()
	h.Set("Content-Type", result.Format.ContentType())
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "capture."+result.Format.Extension()))
	h.Set("X-Capture-Level", strconv.Itoa(result.Bounds.Level))
	h.Set("X-Capture-Tiles", strconv.Itoa(result.Tiles))
	h.Set("X-Capture-Missing", strconv.Itoa(result.Missing))
	h.Set("X-Capture-Datasets", strings.Join(result.Datasets, ","))
	h.Set("X-Capture-Duration-Ms", strconv.FormatInt(result.Duration.Milliseconds(), 10))
	if result.WorldFile != "" {
		h.Set("X-World-File", strings.Join(strings.Fields(result.WorldFile), " "))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleCaptureBounds returns the tile-aligned bounds of a capture.
func (s *Server) handleCaptureBounds(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseCapture(w, r)
	if !ok {
		return
	}

	bounds, err := s.services.Capture.Bounds(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err, "Failed to compute capture bounds")
		return
	}
	s.writeJSON(w, http.StatusOK, bounds)
}

func (s *Server) parseCapture(w http.ResponseWriter, r *http.Request) (input.CaptureRequest, bool) {
	var body captureBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return input.CaptureRequest{}, false
	}
	req, err := body.request(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return input.CaptureRequest{}, false
	}
	return req, true
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Sync.TriggerSync(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// parseDatasetQuery parses the catalog filters of a request.
func parseDatasetQuery(r *http.Request) (domain.DatasetQuery, error) {
	q := domain.DatasetQuery{Order: domain.OrderCoarsestFirst}
	values := r.URL.Query()

	if v := values.Get("bbox"); v != "" {
		b, err := domain.ParseBBox(v)
		if err != nil {
			return q, err
		}
		q.Bounds = &b
	}

	if v := values.Get("resolution"); v != "" {
		res, err := strconv.ParseFloat(v, 64)
		if err != nil || res <= 0 {
			return q, errors.New("invalid resolution parameter")
		}
		// shown at res: native no coarser than res, coarsest no finer
		q.MinGSD = res
		q.MaxGSD = res
	}

	if v := values.Get("provider"); v != "" {
		q.Providers = strings.Split(v, ",")
	}

	if v := values.Get("visible"); v != "" {
		visible, err := strconv.ParseBool(v)
		if err != nil {
			return q, errors.New("invalid visible parameter")
		}
		q.VisibleOnly = visible
	}

	switch values.Get("order") {
	case "", "coarsest":
	case "name":
		q.Order = domain.OrderName
	default:
		return q, errors.New("invalid order parameter: use coarsest or name")
	}

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return q, errors.New("invalid limit parameter")
		}
		q.Limit = limit
	}

	return q, nil
}

// decodeBody decodes a JSON request body of bounded size.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// formatArchive formats an archive for JSON output.
func (s *Server) formatArchive(ctx context.Context, a *domain.Archive) map[string]interface{} {
	status, err := s.services.Archives.GetArchiveStatus(ctx, a.ID)
	if err != nil {
		status = domain.StatusError
	}
	return map[string]interface{}{
		"id":            a.ID,
		"path":          a.Path,
		"size":          a.Size,
		"dataset_count": a.DatasetCount(),
		"status":        status,
		"loaded_at":     a.LoadedAt,
	}
}

// writeServiceError maps a service error to an HTTP status and writes it.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, application.ErrRateLimited):
		retry := int(application.TriggerCooldown.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry))
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedFormat):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "Request timed out")
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, fallback)
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
