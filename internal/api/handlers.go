package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/httputil"
	"github.com/banshee-data/process.report/internal/spc"
	"github.com/banshee-data/process.report/internal/units"
)

// handleSites routes /api/sites and /api/sites/{id}.
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/sites")
	if !hasID {
		if len(rest) > 0 {
			httputil.BadRequest(w, "Invalid site ID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.listSites(w)
		case http.MethodPost:
			s.createSite(w, r)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}
	if len(rest) > 0 {
		httputil.NotFound(w, "unknown site resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSite(w, id)
	case http.MethodPut:
		s.updateSite(w, r, id)
	case http.MethodDelete:
		s.deleteSite(w, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listSites(w http.ResponseWriter) {
	sites, err := s.db.GetAllSites()
	if err != nil {
		log.Printf("Error fetching sites: %v", err)
		httputil.InternalServerError(w, "Failed to fetch sites")
		return
	}
	httputil.WriteJSONOK(w, sites)
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var site db.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if site.Name == "" {
		httputil.BadRequest(w, "Name is required")
		return
	}

	if err := s.db.CreateSite(&site); err != nil {
		log.Printf("Error creating site: %v", err)
		httputil.InternalServerError(w, "Failed to create site")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, site)
}

func (s *Server) getSite(w http.ResponseWriter, id int64) {
	site, err := s.db.GetSite(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Site not found")
			return
		}
		log.Printf("Error fetching site %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to fetch site")
		return
	}
	httputil.WriteJSONOK(w, site)
}

func (s *Server) updateSite(w http.ResponseWriter, r *http.Request, id int64) {
	var site db.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if site.Name == "" {
		httputil.BadRequest(w, "Name is required")
		return
	}
	site.ID = id

	if err := s.db.UpdateSite(&site); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Site not found")
			return
		}
		log.Printf("Error updating site %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to update site")
		return
	}

	updated, err := s.db.GetSite(id)
	if err != nil {
		log.Printf("Error fetching updated site %d: %v", id, err)
		httputil.InternalServerError(w, "Site updated but failed to fetch")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) deleteSite(w http.ResponseWriter, id int64) {
	if err := s.db.DeleteSite(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Site not found")
			return
		}
		log.Printf("Error deleting site %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to delete site")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCharacteristics routes /api/characteristics, /api/characteristics/{id}
// and its subresources: samples, chart, limits, violations, capability.
func (s *Server) handleCharacteristics(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/characteristics")

	if !hasID {
		if len(rest) > 0 {
			httputil.BadRequest(w, "Invalid characteristic ID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.listCharacteristics(w, r)
		case http.MethodPost:
			s.createCharacteristic(w, r)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.getCharacteristic(w, id)
		case http.MethodPut:
			s.updateCharacteristic(w, r, id)
		case http.MethodDelete:
			s.deleteCharacteristic(w, id)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}

	switch rest[0] {
	case "samples":
		s.handleCharacteristicSamples(w, r, id)
	case "chart":
		s.handleChart(w, r, id)
	case "limits":
		s.handleLimits(w, r, id, rest[1:])
	case "violations":
		s.handleViolations(w, r, id)
	case "capability":
		s.handleCapability(w, r, id)
	default:
		httputil.NotFound(w, "unknown characteristic resource")
	}
}

func (s *Server) listCharacteristics(w http.ResponseWriter, r *http.Request) {
	if siteParam := r.URL.Query().Get("site_id"); siteParam != "" {
		siteID, err := strconv.ParseInt(siteParam, 10, 64)
		if err != nil {
			httputil.BadRequest(w, "Invalid 'site_id' parameter")
			return
		}
		chars, err := s.db.GetCharacteristicsBySite(siteID)
		if err != nil {
			log.Printf("Error fetching characteristics for site %d: %v", siteID, err)
			httputil.InternalServerError(w, "Failed to fetch characteristics")
			return
		}
		httputil.WriteJSONOK(w, chars)
		return
	}

	chars, err := s.db.GetAllCharacteristics()
	if err != nil {
		log.Printf("Error fetching characteristics: %v", err)
		httputil.InternalServerError(w, "Failed to fetch characteristics")
		return
	}
	httputil.WriteJSONOK(w, chars)
}

func (s *Server) createCharacteristic(w http.ResponseWriter, r *http.Request) {
	var c db.Characteristic
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if c.Name == "" {
		httputil.BadRequest(w, "Name is required")
		return
	}
	if c.SiteID == 0 {
		httputil.BadRequest(w, "site_id is required")
		return
	}
	if c.Units == "" {
		c.Units = s.units
	}
	if c.ChartMode == "" {
		c.ChartMode = spc.ModeNominal.String()
	}

	if err := s.db.CreateCharacteristic(&c); err != nil {
		if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "must be") {
			httputil.BadRequest(w, err.Error())
			return
		}
		log.Printf("Error creating characteristic: %v", err)
		httputil.InternalServerError(w, "Failed to create characteristic")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) getCharacteristic(w http.ResponseWriter, id int64) {
	c, err := s.db.GetCharacteristic(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		log.Printf("Error fetching characteristic %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to fetch characteristic")
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) updateCharacteristic(w http.ResponseWriter, r *http.Request, id int64) {
	var c db.Characteristic
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	c.ID = id

	if err := s.db.UpdateCharacteristic(&c); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "must be") {
			httputil.BadRequest(w, err.Error())
			return
		}
		log.Printf("Error updating characteristic %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to update characteristic")
		return
	}

	updated, err := s.db.GetCharacteristic(id)
	if err != nil {
		log.Printf("Error fetching updated characteristic %d: %v", id, err)
		httputil.InternalServerError(w, "Characteristic updated but failed to fetch")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) deleteCharacteristic(w http.ResponseWriter, id int64) {
	if err := s.db.DeleteCharacteristic(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		log.Printf("Error deleting characteristic %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to delete characteristic")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SampleRequest is the request body for POST ingestion of a subgroup
// through the API.
type SampleRequest struct {
	Values     []float64 `json:"values"`
	RecordedAt float64   `json:"recorded_at"`
	Source     string    `json:"source"`
}

// handleCharacteristicSamples routes GET (window of samples with their
// measurements, newest first) and POST (ingest one subgroup) on
// /api/characteristics/{id}/samples.
func (s *Server) handleCharacteristicSamples(w http.ResponseWriter, r *http.Request, characteristicID int64) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			parsed, err := strconv.Atoi(l)
			if err != nil || parsed < 1 {
				httputil.BadRequest(w, "Invalid 'limit' parameter")
				return
			}
			limit = parsed
		}
		samples, err := s.db.ListSamplesWithMeasurements(characteristicID, limit)
		if err != nil {
			log.Printf("Error fetching samples for characteristic %d: %v", characteristicID, err)
			httputil.InternalServerError(w, "Failed to fetch samples")
			return
		}
		httputil.WriteJSONOK(w, samples)

	case http.MethodPost:
		var req SampleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body")
			return
		}
		if len(req.Values) == 0 {
			httputil.BadRequest(w, "At least one value is required")
			return
		}
		recordedAt := req.RecordedAt
		if recordedAt <= 0 {
			recordedAt = float64(time.Now().UnixNano()) / 1e9
		}
		source := req.Source
		if source == "" {
			source = "api"
		}

		sample := &db.Sample{
			CharacteristicID: characteristicID,
			RecordedAt:       recordedAt,
			Source:           source,
			Measurements:     make([]db.Measurement, 0, len(req.Values)),
		}
		for _, v := range req.Values {
			sample.Measurements = append(sample.Measurements, db.Measurement{Value: v})
		}

		if err := s.db.CreateSample(sample); err != nil {
			log.Printf("Error creating sample for characteristic %d: %v", characteristicID, err)
			httputil.InternalServerError(w, "Failed to store sample")
			return
		}
		s.reevaluate(r, characteristicID)
		httputil.WriteJSON(w, http.StatusCreated, sample)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// ExcludeRequest is the PATCH body for toggling sample exclusion.
type ExcludeRequest struct {
	Excluded bool `json:"excluded"`
}

// handleSampleByID routes GET and PATCH on /api/samples/{id}.
func (s *Server) handleSampleByID(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/samples")
	if !hasID {
		httputil.BadRequest(w, "Invalid sample ID")
		return
	}
	if len(rest) > 0 {
		httputil.NotFound(w, "unknown sample resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sample, err := s.db.GetSample(id)
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				httputil.NotFound(w, "Sample not found")
				return
			}
			log.Printf("Error fetching sample %d: %v", id, err)
			httputil.InternalServerError(w, "Failed to fetch sample")
			return
		}
		httputil.WriteJSONOK(w, sample)

	case http.MethodPatch:
		var req ExcludeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "Invalid request body")
			return
		}

		sample, err := s.db.GetSample(id)
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				httputil.NotFound(w, "Sample not found")
				return
			}
			log.Printf("Error fetching sample %d: %v", id, err)
			httputil.InternalServerError(w, "Failed to fetch sample")
			return
		}

		if err := s.db.SetSampleExcluded(id, req.Excluded); err != nil {
			log.Printf("Error updating sample %d exclusion: %v", id, err)
			httputil.InternalServerError(w, "Failed to update sample")
			return
		}
		s.reevaluate(r, sample.CharacteristicID)

		updated, err := s.db.GetSample(id)
		if err != nil {
			log.Printf("Error fetching updated sample %d: %v", id, err)
			httputil.InternalServerError(w, "Sample updated but failed to fetch")
			return
		}
		httputil.WriteJSONOK(w, updated)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// reevaluate reruns the chart evaluation for a characteristic after a
// mutation, so chart reads immediately reflect the change instead of
// waiting for the next worker tick. Failures are logged only; the next
// tick converges to the same state.
func (s *Server) reevaluate(r *http.Request, characteristicID int64) {
	if s.worker == nil {
		return
	}
	if _, err := s.worker.EvaluateCharacteristic(r.Context(), characteristicID, s.worker.HistoryWindow); err != nil {
		log.Printf("Post-edit evaluation for characteristic %d failed: %v", characteristicID, err)
	}
}

// ChartPoint is one plotted subgroup on a control chart. UCL and LCL are
// only set when the chart runs with per-point limits; Z only on
// standardized charts.
type ChartPoint struct {
	SampleID   int64    `json:"sample_id"`
	RecordedAt float64  `json:"recorded_at"`
	Value      float64  `json:"value"`
	N          int      `json:"n"`
	Zone       string   `json:"zone"`
	UCL        *float64 `json:"ucl,omitempty"`
	LCL        *float64 `json:"lcl,omitempty"`
	Z          *float64 `json:"z,omitempty"`
}

// ChartLimits is the current control limit revision converted to the
// characteristic's display units.
type ChartLimits struct {
	Revision      int     `json:"revision"`
	CenterLine    float64 `json:"center_line"`
	UCL           float64 `json:"ucl"`
	LCL           float64 `json:"lcl"`
	SigmaEstimate float64 `json:"sigma_estimate"`
	BasisN        int     `json:"basis_n"`
}

// ChartResponse is the full payload for rendering one control chart.
type ChartResponse struct {
	CharacteristicID int64          `json:"characteristic_id"`
	ChartMode        string         `json:"chart_mode"`
	ChartFamily      string         `json:"chart_family"`
	Units            string         `json:"units"`
	Limits           *ChartLimits   `json:"limits"`
	Points           []ChartPoint   `json:"points"`
	Violations       []db.Violation `json:"violations"`
}

// handleChart serves GET /api/characteristics/{id}/chart: the evaluated
// subgroup history in chart order with zones, the current limits and the
// stored violations. Values are converted from millimetres to the
// characteristic's display units; Z scores stay unitless.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request, characteristicID int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	char, err := s.db.GetCharacteristic(characteristicID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		log.Printf("Error fetching characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to fetch characteristic")
		return
	}

	window, ok := s.windowParam(w, r)
	if !ok {
		return
	}

	resp, err := s.buildChart(r, char, window)
	if err != nil {
		log.Printf("Error building chart for characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to build chart")
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) windowParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	if param := r.URL.Query().Get("window"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'window' parameter")
			return 0, false
		}
		return parsed, true
	}
	if s.worker != nil {
		return s.worker.HistoryWindow, true
	}
	return 0, true
}

func (s *Server) buildChart(r *http.Request, char *db.Characteristic, window int) (*ChartResponse, error) {
	resp := &ChartResponse{
		CharacteristicID: char.ID,
		ChartMode:        char.ChartMode,
		ChartFamily:      char.FamilyLabel(),
		Units:            char.Units,
		Points:           []ChartPoint{},
		Violations:       []db.Violation{},
	}

	stored, err := s.db.GetCurrentLimits(r.Context(), char.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current limits: %w", err)
	}
	if stored == nil {
		// No evaluation has produced limits yet; serve an empty chart so
		// the dashboard renders rather than erroring on a new characteristic.
		return resp, nil
	}
	limits, err := stored.Limits()
	if err != nil {
		return nil, err
	}

	resp.Limits = &ChartLimits{
		Revision:      stored.Revision,
		CenterLine:    units.ConvertLength(limits.CenterLine, char.Units),
		UCL:           units.ConvertLength(limits.UCL, char.Units),
		LCL:           units.ConvertLength(limits.LCL, char.Units),
		SigmaEstimate: units.ConvertLength(limits.SigmaEstimate, char.Units),
		BasisN:        stored.BasisN,
	}
	if limits.Mode == spc.ModeStandardized {
		// Standardized charts plot in Z units; limits are fixed at +/-3.
		resp.Limits.CenterLine = 0
		resp.Limits.UCL = limits.UCL
		resp.Limits.LCL = limits.LCL
		resp.Limits.SigmaEstimate = 1
	}

	stats, err := s.db.GetSubgroupStats(r.Context(), char.ID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to load subgroup stats: %w", err)
	}

	for _, st := range stats {
		stat := spc.SubgroupStat{
			SampleID: st.SampleID,
			Mean:     st.Mean,
			Range:    st.Range,
			StdDev:   st.StdDev,
			N:        st.N,
		}

		zone, err := spc.Classify(stat, limits)
		if err != nil {
			return nil, err
		}
		value, err := spc.ChartValue(stat, limits)
		if err != nil {
			return nil, err
		}

		point := ChartPoint{
			SampleID:   st.SampleID,
			RecordedAt: st.RecordedAt,
			N:          st.N,
			Zone:       zone.String(),
		}
		switch limits.Mode {
		case spc.ModeStandardized:
			point.Value = value
			z := value
			point.Z = &z
		case spc.ModeVariable:
			point.Value = units.ConvertLength(value, char.Units)
			ucl, lcl := spc.PointLimits(limits, st.N)
			uclConv := units.ConvertLength(ucl, char.Units)
			lclConv := units.ConvertLength(lcl, char.Units)
			point.UCL = &uclConv
			point.LCL = &lclConv
		default:
			point.Value = units.ConvertLength(value, char.Units)
		}
		resp.Points = append(resp.Points, point)
	}

	violations, err := s.db.ListViolations(char.ID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}
	resp.Violations = append(resp.Violations, violations...)

	return resp, nil
}

// handleLimits routes GET /api/characteristics/{id}/limits (revision
// history, newest first) and POST .../limits/recalculate.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request, characteristicID int64, rest []string) {
	if len(rest) == 1 && rest[0] == "recalculate" {
		s.recalculateLimits(w, r, characteristicID)
		return
	}
	if len(rest) > 0 {
		httputil.NotFound(w, "unknown limits resource")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	revisions, err := s.db.ListLimitRevisions(r.Context(), characteristicID)
	if err != nil {
		log.Printf("Error fetching limit revisions for characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to fetch limit revisions")
		return
	}
	httputil.WriteJSONOK(w, revisions)
}

func (s *Server) recalculateLimits(w http.ResponseWriter, r *http.Request, characteristicID int64) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.worker == nil {
		httputil.InternalServerError(w, "SPC worker not configured")
		return
	}

	result, err := s.worker.RecalculateLimits(r.Context(), characteristicID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		if errors.Is(err, spc.ErrInsufficientHistory) {
			httputil.Conflict(w, err.Error())
			return
		}
		log.Printf("Error recalculating limits for characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to recalculate limits")
		return
	}
	httputil.WriteJSONOK(w, result)
}

// handleViolations serves GET /api/characteristics/{id}/violations. Pass
// open=1 for unacknowledged findings only.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request, characteristicID int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	openOnly := r.URL.Query().Get("open") == "1"
	violations, err := s.db.ListViolations(characteristicID, openOnly)
	if err != nil {
		log.Printf("Error fetching violations for characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to fetch violations")
		return
	}
	httputil.WriteJSONOK(w, violations)
}

// handleViolationByID routes POST /api/violations/{id}/ack.
func (s *Server) handleViolationByID(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/violations")
	if !hasID {
		httputil.BadRequest(w, "Invalid violation ID")
		return
	}
	if len(rest) != 1 || rest[0] != "ack" {
		httputil.NotFound(w, "unknown violation resource")
		return
	}
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.db.AcknowledgeViolation(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Violation not found")
			return
		}
		log.Printf("Error acknowledging violation %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to acknowledge violation")
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"acknowledged": true})
}

// CapabilityResponse reports the capability indices for a characteristic
// over a subgroup window. Mean and sigma values are converted to the
// characteristic's display units; the indices themselves are unitless.
type CapabilityResponse struct {
	CharacteristicID int64   `json:"characteristic_id"`
	Units            string  `json:"units"`
	Window           int     `json:"window"`
	Cp               float64 `json:"cp"`
	Cpk              float64 `json:"cpk"`
	Pp               float64 `json:"pp"`
	Ppk              float64 `json:"ppk"`
	SigmaWithin      float64 `json:"sigma_within"`
	SigmaOverall     float64 `json:"sigma_overall"`
	Mean             float64 `json:"mean"`
	N                int     `json:"n"`
}

// handleCapability serves GET /api/characteristics/{id}/capability.
func (s *Server) handleCapability(w http.ResponseWriter, r *http.Request, characteristicID int64) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	char, err := s.db.GetCharacteristic(characteristicID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Characteristic not found")
			return
		}
		log.Printf("Error fetching characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to fetch characteristic")
		return
	}

	spec := char.SpecLimits()
	if spec.USL == nil || spec.LSL == nil {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity,
			"Capability requires both USL and LSL on the characteristic")
		return
	}

	window, ok := s.windowParam(w, r)
	if !ok {
		return
	}

	stats, err := s.db.GetSubgroupStats(r.Context(), characteristicID, window)
	if err != nil {
		log.Printf("Error fetching subgroup stats for characteristic %d: %v", characteristicID, err)
		httputil.InternalServerError(w, "Failed to fetch subgroup statistics")
		return
	}

	history := make([]spc.SubgroupStat, 0, len(stats))
	for _, st := range stats {
		history = append(history, spc.SubgroupStat{
			SampleID: st.SampleID,
			Mean:     st.Mean,
			Range:    st.Range,
			StdDev:   st.StdDev,
			N:        st.N,
		})
	}

	var engineLimits *spc.ControlLimits
	if stored, err := s.db.GetCurrentLimits(r.Context(), characteristicID); err == nil && stored != nil {
		if l, err := stored.Limits(); err == nil {
			engineLimits = &l
		}
	}

	result, err := spc.ComputeCapability(history, engineLimits, spec)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Capability not computable: %v", err))
		return
	}
	if result == nil {
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity,
			"Capability requires both USL and LSL on the characteristic")
		return
	}

	resp := CapabilityResponse{
		CharacteristicID: characteristicID,
		Units:            char.Units,
		Window:           window,
		Cp:               result.Cp,
		Cpk:              result.Cpk,
		Pp:               result.Pp,
		Ppk:              result.Ppk,
		SigmaWithin:      units.ConvertLength(result.SigmaWithin, char.Units),
		SigmaOverall:     units.ConvertLength(result.SigmaOverall, char.Units),
		Mean:             units.ConvertLength(result.Mean, char.Units),
		N:                result.N,
	}
	// JSON has no encoding for Inf, so the zero-spread convention is
	// reported as a very large capability instead.
	for _, f := range []*float64{&resp.Cp, &resp.Cpk, &resp.Pp, &resp.Ppk} {
		if math.IsInf(*f, 1) {
			*f = math.MaxFloat64
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleBrokers routes /api/brokers and /api/brokers/{id} for MQTT
// ingestion sources. Broker changes take effect on station restart.
func (s *Server) handleBrokers(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/brokers")
	if !hasID {
		if len(rest) > 0 {
			httputil.BadRequest(w, "Invalid broker ID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			brokers, err := s.db.GetBrokers()
			if err != nil {
				log.Printf("Error fetching brokers: %v", err)
				httputil.InternalServerError(w, "Failed to fetch brokers")
				return
			}
			httputil.WriteJSONOK(w, brokers)
		case http.MethodPost:
			s.createBroker(w, r)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}
	if len(rest) > 0 {
		httputil.NotFound(w, "unknown broker resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		broker, err := s.db.GetBroker(id)
		if err != nil {
			log.Printf("Error fetching broker %d: %v", id, err)
			httputil.InternalServerError(w, "Failed to fetch broker")
			return
		}
		if broker == nil {
			httputil.NotFound(w, "Broker not found")
			return
		}
		httputil.WriteJSONOK(w, broker)
	case http.MethodPut:
		s.updateBroker(w, r, id)
	case http.MethodDelete:
		if err := s.db.DeleteBroker(id); err != nil {
			if strings.Contains(err.Error(), "not found") {
				httputil.NotFound(w, "Broker not found")
				return
			}
			log.Printf("Error deleting broker %d: %v", id, err)
			httputil.InternalServerError(w, "Failed to delete broker")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func validateBroker(b *db.Broker) string {
	if b.Name == "" {
		return "Name is required"
	}
	if b.URL == "" {
		return "URL is required"
	}
	if b.Topic == "" {
		return "Topic is required"
	}
	if b.QoS < 0 || b.QoS > 2 {
		return "QoS must be 0, 1 or 2"
	}
	return ""
}

func (s *Server) createBroker(w http.ResponseWriter, r *http.Request) {
	var broker db.Broker
	if err := json.NewDecoder(r.Body).Decode(&broker); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if msg := validateBroker(&broker); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	id, err := s.db.CreateBroker(&broker)
	if err != nil {
		log.Printf("Error creating broker: %v", err)
		httputil.InternalServerError(w, "Failed to create broker")
		return
	}

	created, err := s.db.GetBroker(id)
	if err != nil || created == nil {
		log.Printf("Error fetching created broker %d: %v", id, err)
		httputil.InternalServerError(w, "Broker created but failed to fetch")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) updateBroker(w http.ResponseWriter, r *http.Request, id int64) {
	var broker db.Broker
	if err := json.NewDecoder(r.Body).Decode(&broker); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if msg := validateBroker(&broker); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	broker.ID = id

	if err := s.db.UpdateBroker(&broker); err != nil {
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Broker not found")
			return
		}
		log.Printf("Error updating broker %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to update broker")
		return
	}

	updated, err := s.db.GetBroker(id)
	if err != nil || updated == nil {
		log.Printf("Error fetching updated broker %d: %v", id, err)
		httputil.InternalServerError(w, "Broker updated but failed to fetch")
		return
	}
	httputil.WriteJSONOK(w, updated)
}
