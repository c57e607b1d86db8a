package stub

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/vearchprobe/internal/models"
)

func (s *Server) handleClusterStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, []models.ClusterStats{{Status: http.StatusOK, IP: "127.0.0.1"}})
}

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cluster.Health())
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.respondMaster(w, map[string]any{
		"servers": []models.ServerInfo{{ID: 1, IP: "127.0.0.1", Addr: r.Host}},
		"count":   1,
	})
}

func (s *Server) handleListDBs(w http.ResponseWriter, r *http.Request) {
	s.respondMaster(w, s.cluster.DBs())
}

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.cluster.Spaces(r.Context(), r.URL.Query().Get("db"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, spaces)
}

func (s *Server) handleCreateDB(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, errorf(CodeParam, "invalid request body: %v", err))
		return
	}
	info, err := s.cluster.CreateDB(body.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, info)
}

func (s *Server) handleGetDB(w http.ResponseWriter, r *http.Request) {
	info, err := s.cluster.DB(chi.URLParam(r, "db"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, info)
}

func (s *Server) handleDeleteDB(w http.ResponseWriter, r *http.Request) {
	if err := s.cluster.DeleteDB(chi.URLParam(r, "db")); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, nil)
}

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var cfg models.SpaceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, errorf(CodeParam, "invalid request body: %v", err))
		return
	}
	info, err := s.cluster.CreateSpace(r.Context(), chi.URLParam(r, "db"), cfg)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, info)
}

func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	info, err := s.cluster.SpaceInfo(r.Context(), chi.URLParam(r, "db"), chi.URLParam(r, "space"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, info)
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := s.cluster.DeleteSpace(chi.URLParam(r, "db"), chi.URLParam(r, "space")); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondMaster(w, nil)
}
