package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"queuectl/jobqueue"
	"queuectl/registry"
)

type dataResp struct {
	Jobs    []jobqueue.Job          `json:"jobs"`
	Workers []registry.WorkerStatus `json:"workers"`
	Config  jobqueue.Config         `json:"config"`
	Summary map[jobqueue.State]int  `json:"summary"`
}

func (s *Server) data(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := s.q.GetByState(ctx, jobqueue.StateAll)
	if err != nil {
		s.fail(w, r, "failed to fetch data", err)
		return
	}
	workers, err := s.sup.Workers(ctx)
	if err != nil {
		s.fail(w, r, "failed to fetch data", err)
		return
	}
	cfg, err := s.q.Config(ctx)
	if err != nil {
		s.fail(w, r, "failed to fetch data", err)
		return
	}
	summary, err := s.q.StatusSummary(ctx)
	if err != nil {
		s.fail(w, r, "failed to fetch data", err)
		return
	}

	writeJSON(w, http.StatusOK, dataResp{Jobs: jobs, Workers: workers, Config: cfg, Summary: summary})
}

type enqueueReq struct {
	Command    string            `json:"command"`
	Priority   jobqueue.Priority `json:"priority"`
	MaxRetries *int              `json:"max_retries"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	job, err := s.q.Enqueue(r.Context(), req.Command, req.Priority, req.MaxRetries)
	if err != nil {
		s.fail(w, r, "failed to enqueue job", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) {
	job, err := s.q.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "failed to fetch job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type startReq struct {
	Count int `json:"count"`
}

func (s *Server) startWorkers(w http.ResponseWriter, r *http.Request) {
	req := startReq{Count: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 {
		writeError(w, http.StatusBadRequest, "count must be >= 1")
		return
	}

	pids, err := s.sup.Start(r.Context(), req.Count)
	if err != nil {
		s.fail(w, r, "failed to start workers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "workers started", "pids": pids})
}

func (s *Server) stopWorkers(w http.ResponseWriter, r *http.Request) {
	n, err := s.sup.Stop(r.Context())
	if err != nil {
		s.fail(w, r, "failed to stop workers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "workers stopped", "signalled": n})
}

func (s *Server) retryDead(w http.ResponseWriter, r *http.Request) {
	job, err := s.q.RetryDeadJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "failed to retry job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found in DLQ")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type configReq struct {
	MaxRetries  *json.Number `json:"maxRetries"`
	BackoffBase *json.Number `json:"backoffBase"`
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req configReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	var changes []jobqueue.ConfigChange
	if req.MaxRetries != nil {
		changes = append(changes, jobqueue.ConfigChange{Key: "maxRetries", Value: req.MaxRetries.String()})
	}
	if req.BackoffBase != nil {
		changes = append(changes, jobqueue.ConfigChange{Key: "backoffBase", Value: req.BackoffBase.String()})
	}

	var (
		cfg jobqueue.Config
		err error
	)
	if len(changes) == 0 {
		cfg, err = s.q.Config(r.Context())
	} else {
		cfg, err = s.q.ApplyConfig(r.Context(), changes...)
	}
	if err != nil {
		s.fail(w, r, "failed to update config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
