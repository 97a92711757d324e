package server

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/version"
)

// StatusResponse is the /status payload
type StatusResponse struct {
	helper.Status `yaml:",inline"`
	Download      *downloader.Progress `json:"download,omitempty" yaml:"download,omitempty"`
}

// VersionResponse is the /version payload
type VersionResponse struct {
	Manager         string `json:"manager"`
	Helper          string `json:"helper"`
	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// PruneResponse lists the cache files removed by /cache/prune
type PruneResponse struct {
	Removed []string `json:"removed"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Status  *helper.Status `json:"status,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONObject(w, StatusResponse{Status: s.manager.Status(), Download: s.progress()})
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	log.WithContext(r.Context()).Infof("restart requested")

	err := s.manager.Restart(s.rootCtx, s.recordProgress)
	status := s.manager.Status()

	switch {
	case err == nil:
		writeJSONObject(w, StatusResponse{Status: status})
	case errors.Is(err, helper.ErrAlreadyRunning):
		writeErrorResponse(w, http.StatusConflict, err.Error(), &status)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error(), &status)
	}
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	current := s.manager.Target().Version
	resp := VersionResponse{
		Manager: version.ManagerVersion(),
		Helper:  current,
	}
	if s.opts.Releases != nil {
		resp.Latest = s.opts.Releases.Latest(r.Context(), current)
		resp.UpdateAvailable = version.UpdateAvailable(current, resp.Latest)
	}
	writeJSONObject(w, resp)
}

func (s *Server) pruneCache(w http.ResponseWriter, r *http.Request) {
	removed := s.manager.Cache().Prune(s.manager.Target().Version)
	if removed == nil {
		removed = []string{}
	}
	writeJSONObject(w, PruneResponse{Removed: removed})
}

func writeJSONObject(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, code int, msg string, status *helper.Status) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(&ErrorResponse{
		Message: msg,
		Code:    code,
		Status:  status,
	})
	if err != nil {
		log.Errorf("failed to encode error response: %v", err)
	}
}
