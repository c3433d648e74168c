package http

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	State    string `json:"state"`
	Backend  string `json:"backend"`
}

type reconnectResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	Suggestion        string `json:"suggestion,omitempty"`
	ConnectionHealthy bool   `json:"connection_healthy"`
}

// healthHandler always answers 200 so the process stays up while the database is away
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.uc.Admin.HealthCheck(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := healthResponse{
		Status:   "unhealthy",
		Database: "disconnected",
		State:    status.Database.State,
		Backend:  status.Database.Backend,
	}
	if status.Healthy {
		resp.Status = "healthy"
		resp.Database = "connected"
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.uc.Admin.ForceReconnect(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}

	resp := reconnectResponse{
		Status:            "success",
		Message:           result.Message,
		Suggestion:        result.Suggestion,
		ConnectionHealthy: result.Healthy,
	}
	if !result.Success {
		resp.Status = "failed"
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) driveFilesHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := s.uc.Drive.ListFiles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, listing)
}
