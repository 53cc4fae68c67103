package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tg/roverlink/internal/util"
	"github.com/tg/roverlink/internal/version"
)

// RespondJSON sends a JSON response with the given status code and data
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.GetLogger().Debug("Failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, msg string) {
	RespondJSON(w, statusCode, map[string]string{"error": msg})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, s.backend.Status())
}

type controlRequest struct {
	Accel     *int `json:"accel"`
	Direction *int `json:"direction"`
}

func (s *StatusServer) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Accel == nil || req.Direction == nil {
		respondError(w, http.StatusBadRequest, "accel and direction are required")
		return
	}

	s.backend.SetControl(*req.Accel, *req.Direction)
	w.WriteHeader(http.StatusNoContent)
}

type orientationRequest struct {
	Azimuth *float64 `json:"azimuth"`
}

func (s *StatusServer) handleOrientation(w http.ResponseWriter, r *http.Request) {
	var req orientationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Azimuth == nil {
		respondError(w, http.StatusBadRequest, "azimuth is required")
		return
	}
	if !s.backend.SetAzimuth(*req.Azimuth) {
		respondError(w, http.StatusConflict, "control by rotation is disabled")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StatusServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := version.Info()
	info["uptime"] = s.Uptime().Round(time.Second).String()
	RespondJSON(w, http.StatusOK, info)
}
