package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
	"github.com/banshee-data/process.report/internal/httputil"
)

// SerialConfigRequest is the request body for creating or updating a
// gauge serial configuration.
type SerialConfigRequest struct {
	Name             string `json:"name"`
	PortPath         string `json:"port_path"`
	BaudRate         int    `json:"baud_rate"`
	DataBits         int    `json:"data_bits"`
	StopBits         int    `json:"stop_bits"`
	Parity           string `json:"parity"`
	Enabled          bool   `json:"enabled"`
	Description      string `json:"description"`
	GaugeModel       string `json:"gauge_model"`
	CharacteristicID *int64 `json:"characteristic_id"`
}

// handleSerialConfigsOrCreate handles GET and POST to /api/serial/configs.
func (s *Server) handleSerialConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSerialConfigs(w)
	case http.MethodPost:
		s.createSerialConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listSerialConfigs(w http.ResponseWriter) {
	configs, err := s.db.GetSerialConfigs()
	if err != nil {
		log.Printf("Error fetching serial configs: %v", err)
		httputil.InternalServerError(w, "Failed to fetch serial configurations")
		return
	}
	httputil.WriteJSONOK(w, configs)
}

// handleSerialConfigByID handles GET/PUT/DELETE /api/serial/configs/{id}.
func (s *Server) handleSerialConfigByID(w http.ResponseWriter, r *http.Request) {
	id, rest, hasID := pathID(r.URL.Path, "/api/serial/configs")
	if !hasID || len(rest) > 0 {
		httputil.BadRequest(w, "Invalid config ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSerialConfig(w, id)
	case http.MethodPut:
		s.updateSerialConfig(w, r, id)
	case http.MethodDelete:
		s.deleteSerialConfig(w, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) getSerialConfig(w http.ResponseWriter, id int64) {
	config, err := s.db.GetSerialConfig(id)
	if err != nil {
		log.Printf("Error fetching serial config %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to fetch serial configuration")
		return
	}
	if config == nil {
		httputil.NotFound(w, "Configuration not found")
		return
	}
	httputil.WriteJSONOK(w, config)
}

// validateSerialConfigRequest checks the request fields, applies the
// gauge model defaults and resolves the routed characteristic. It
// returns a non-empty message when the request is rejectable as a 400.
func (s *Server) validateSerialConfigRequest(req *SerialConfigRequest) string {
	if req.Name == "" {
		return "Name is required"
	}
	if req.PortPath == "" {
		return "Port path is required"
	}
	if !isValidPortPath(req.PortPath) {
		return "Invalid port path. Must start with /dev/tty or /dev/serial"
	}

	if req.GaugeModel == "" {
		req.GaugeModel = "generic-csv"
	}
	model, ok := gaugemux.LookupModel(req.GaugeModel)
	if !ok {
		return fmt.Sprintf("Unsupported gauge model: %s", req.GaugeModel)
	}

	if req.BaudRate == 0 {
		req.BaudRate = model.DefaultBaud
	}
	if req.DataBits == 0 {
		req.DataBits = 8
	}
	if req.StopBits == 0 {
		req.StopBits = 1
	}
	if req.Parity == "" {
		req.Parity = "N"
	}

	if req.CharacteristicID != nil {
		if _, err := s.db.GetCharacteristic(*req.CharacteristicID); err != nil {
			return fmt.Sprintf("Unknown characteristic %d", *req.CharacteristicID)
		}
	}
	return ""
}

func (req *SerialConfigRequest) toConfig() *db.SerialConfig {
	return &db.SerialConfig{
		Name:             req.Name,
		PortPath:         req.PortPath,
		BaudRate:         req.BaudRate,
		DataBits:         req.DataBits,
		StopBits:         req.StopBits,
		Parity:           req.Parity,
		Enabled:          req.Enabled,
		Description:      req.Description,
		GaugeModel:       req.GaugeModel,
		CharacteristicID: req.CharacteristicID,
	}
}

func (s *Server) createSerialConfig(w http.ResponseWriter, r *http.Request) {
	var req SerialConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if msg := s.validateSerialConfigRequest(&req); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	id, err := s.db.CreateSerialConfig(req.toConfig())
	if err != nil {
		log.Printf("Error creating serial config: %v", err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			httputil.Conflict(w, "Configuration with this name already exists")
			return
		}
		httputil.InternalServerError(w, "Failed to create serial configuration")
		return
	}

	created, err := s.db.GetSerialConfig(id)
	if err != nil || created == nil {
		log.Printf("Error fetching created config: %v", err)
		httputil.InternalServerError(w, "Configuration created but failed to fetch")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) updateSerialConfig(w http.ResponseWriter, r *http.Request, id int64) {
	var req SerialConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if msg := s.validateSerialConfigRequest(&req); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	config := req.toConfig()
	config.ID = id

	if err := s.db.UpdateSerialConfig(config); err != nil {
		log.Printf("Error updating serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Configuration not found")
			return
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			httputil.Conflict(w, "Configuration with this name already exists")
			return
		}
		httputil.InternalServerError(w, "Failed to update serial configuration")
		return
	}

	updated, err := s.db.GetSerialConfig(id)
	if err != nil || updated == nil {
		log.Printf("Error fetching updated config: %v", err)
		httputil.InternalServerError(w, "Configuration updated but failed to fetch")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) deleteSerialConfig(w http.ResponseWriter, id int64) {
	if err := s.db.DeleteSerialConfig(id); err != nil {
		log.Printf("Error deleting serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Configuration not found")
			return
		}
		httputil.InternalServerError(w, "Failed to delete serial configuration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGaugeModels handles GET /api/serial/models: the gauge interface
// units this station can drive.
func (s *Server) handleGaugeModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, gaugemux.SupportedModels())
}

// isValidPortPath validates that a port path is in an allowed format.
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/serial")
}
