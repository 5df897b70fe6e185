// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rest implements the JSON /api/v1 frontend (C14) on top of
// go-chi/chi, the router used throughout the retrieval pack's HTTP
// services for its low-overhead middleware chain.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/internal/httpauth"
	"github.com/puffious/rclone-pool/pkg/config"
	"github.com/puffious/rclone-pool/pkg/pool"
	"github.com/puffious/rclone-pool/pkg/rebalancer"
	"github.com/puffious/rclone-pool/pkg/verifier"
)

// envelope is the uniform REST response shape, per spec §4.14.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Server wires /api/v1 over a *pool.Engine plus the Verifier and
// Rebalancer it does not itself own (borrowed from whatever constructed
// it, matching C12's ownership rule).
type Server struct {
	engine     *pool.Engine
	verifier   *verifier.Verifier
	rebalancer *rebalancer.Rebalancer
	auth       *httpauth.Authenticator
	cfg        *config.Config
	log        zerolog.Logger
	now        func() time.Time
}

// New builds the chi router for /api/v1.
func New(engine *pool.Engine, v *verifier.Verifier, rb *rebalancer.Rebalancer, auth *httpauth.Authenticator, cfg *config.Config, log zerolog.Logger) http.Handler {
	s := &Server{engine: engine, verifier: v, rebalancer: rb, auth: auth, cfg: cfg, log: log, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/files", s.handleListFiles)
		r.Get("/files/{path}", s.handleGetFile)
		r.Post("/files", s.handleUploadFile)
		r.Delete("/files/{path}", s.handleDeleteFile)
		r.Get("/remotes", s.handleRemotes)
		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
		r.Post("/verify", s.handleVerify)
		r.Post("/repair", s.handleRepair)
		r.Post("/rebalance", s.handleRebalance)
		r.Get("/docs", s.handleDocs)
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := s.auth.Authenticate(r); !ok {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Timestamp: s.now().UTC().Format(time.RFC3339)})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg, Timestamp: s.now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    "1.0",
		"app_name":   s.cfg.AppName,
		"remotes":    s.cfg.Remotes,
		"chunk_size": s.cfg.ChunkSize,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = "/"
	}
	summaries, err := s.engine.Ls(r.Context(), dir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	p := "/" + chi.URLParam(r, "path")
	m, err := s.engine.Store().Load(r.Context(), p)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

type uploadRequest struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.engine.Upload(r.Context(), req.LocalPath, req.RemotePath); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	p := "/" + chi.URLParam(r, "path")
	if err := s.engine.Delete(r.Context(), p); err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRemotes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Balancer().UsageReport())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.Ls(r.Context(), "/")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var totalSize uint64
	var totalChunks uint32
	for _, sm := range summaries {
		totalSize += sm.Size
		totalChunks += sm.ChunkCount
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_files":  len(summaries),
		"total_size":   totalSize,
		"total_chunks": totalChunks,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type verifyRequest struct {
	FilePath string `json:"file_path"`
	Quick    bool   `json:"quick"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.verifier.Verify(r.Context(), req.FilePath, req.Quick)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type repairRequest struct {
	FilePath   string `json:"file_path"`
	LocalSource string `json:"local_source"`
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.verifier.Repair(r.Context(), req.FilePath, req.LocalSource)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type rebalanceRequest struct {
	DryRun bool `json:"dry_run"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body means dry_run=false, a valid request

	res, err := s.rebalancer.Rebalance(r.Context(), s.cfg.RebalanceThreshold, req.DryRun)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": []string{
			"GET /api/v1/status", "GET /api/v1/files", "GET /api/v1/files/{path}",
			"POST /api/v1/files", "DELETE /api/v1/files/{path}", "GET /api/v1/remotes",
			"GET /api/v1/stats", "GET /api/v1/health", "POST /api/v1/verify",
			"POST /api/v1/repair", "POST /api/v1/rebalance", "GET /api/v1/docs",
		},
	})
}
