package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/config"
	"github.com/reelcut/reelcut-engine/internal/render"
	"github.com/reelcut/reelcut-engine/internal/upload"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/clips", listClipsHandler(cfg))
		r.Post("/clips", addClipsHandler(cfg))
		r.Delete("/clips/{id}", removeClipHandler(cfg))
		r.Put("/clips/{id}/trim", setTrimHandler(cfg))
		r.Put("/order", setOrderHandler(cfg))

		r.Get("/transition", getTransitionHandler(cfg))
		r.Put("/transition", setTransitionHandler(cfg))
		r.Get("/audio", getAudioHandler(cfg))
		r.Put("/audio", setAudioHandler(cfg))

		r.Post("/export", exportHandler(cfg))
		r.Post("/export/cancel", cancelExportHandler(cfg))
		r.Get("/export/{id}", getJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/upload", uploadHandler(cfg))
		r.Get("/upload/{id}", getJobHandler(cfg))

		r.Post("/error/dismiss", dismissErrorHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

// statusHandler collapses job and surface state into one view: rendering
// or uploading when a job is active, error when the surface holds a
// message, idle otherwise.
func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		progress, err := cfg.ClipService.Progress(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		state := "idle"
		var activeJob *JobResponse

		if id := cfg.Engine.ActiveJobID(); id != "" {
			if job, err := cfg.Repository.GetJob(ctx, id); err == nil && job != nil {
				state = "rendering"
				resp := JobToResponse(job)
				activeJob = &resp
			}
		}
		if activeJob == nil {
			jobs, _ := cfg.Repository.ListJobs(ctx, 10)
			for _, j := range jobs {
				if j.Status == clips.JobStatusUploading {
					state = "uploading"
					resp := JobToResponse(j)
					activeJob = &resp
					break
				}
			}
		}

		lastError := cfg.Surface.Current()
		if lastError != "" && state == "idle" {
			state = "error"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       state,
			LastError:   lastError,
			ClipsTotal:  progress.Total,
			ClipsLoaded: progress.Loaded,
			ActiveJob:   activeJob,
		})
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.ClipService.GetClips(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}
		progress, err := cfg.ClipService.Progress(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{
			Clips:  make([]ClipResponse, len(list)),
			Loaded: progress.Loaded,
			Total:  progress.Total,
		}
		for i, c := range list {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddClipsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.Paths) == 0 {
			WriteError(w, http.StatusBadRequest, "paths must not be empty", "BAD_REQUEST")
			return
		}

		added, dropped, err := cfg.ClipService.AddClips(r.Context(), req.Paths)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := AddClipsResponse{Dropped: dropped}
		for _, c := range added {
			resp.Added = append(resp.Added, ClipToResponse(c))
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func removeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "clip id required", "BAD_REQUEST")
			return
		}

		if err := cfg.ClipService.RemoveClip(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setTrimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req SetTrimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		clip, err := cfg.ClipService.SetClipTrim(r.Context(), id, req.TrimIn, req.TrimOut)
		if err != nil {
			switch {
			case errors.Is(err, clips.ErrClipNotFound):
				WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			case errors.Is(err, clips.ErrInvalidTrim):
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func setOrderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := cfg.ClipService.SetOrder(r.Context(), req.ClipIDs); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		list, err := cfg.ClipService.GetClips(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		resp := ClipsResponse{Clips: make([]ClipResponse, len(list))}
		for i, c := range list {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getTransitionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, err := cfg.ClipService.Transition(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, TransitionResponse{Type: tc.Type, Duration: tc.Duration})
	}
}

func setTransitionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		tc, err := cfg.ClipService.SetTransition(r.Context(), clips.TransitionConfig{
			Type:     req.Type,
			Duration: req.Duration,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, TransitionResponse{Type: tc.Type, Duration: tc.Duration})
	}
}

func getAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := cfg.ClipService.Audio(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, AudioResponse{Enabled: ac.Enabled, Path: ac.Path, Volume: ac.Volume})
	}
}

func setAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AudioRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		ac, err := cfg.ClipService.SetAudio(r.Context(), clips.AudioConfig{
			Enabled: req.Enabled,
			Path:    req.Path,
			Volume:  req.Volume,
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, AudioResponse{Enabled: ac.Enabled, Path: ac.Path, Volume: ac.Volume})
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.OutputPath == "" {
			WriteError(w, http.StatusBadRequest, "output_path is required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Engine.Export(r.Context(), req.OutputPath)
		if err != nil {
			switch {
			case errors.Is(err, render.ErrExportActive):
				WriteError(w, http.StatusConflict, err.Error(), "EXPORT_ACTIVE")
			case errors.Is(err, render.ErrEmptyPlan):
				WriteError(w, http.StatusBadRequest, err.Error(), "EMPTY_PLAN")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportResponse{JobID: job.ID})
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		// Body is optional: an empty cancel targets whatever is active.
		json.NewDecoder(r.Body).Decode(&req)

		if err := cfg.Engine.Cancel(r.Context(), req.JobID); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.ExportJobID == "" {
			WriteError(w, http.StatusBadRequest, "export_job_id is required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Uploader.Start(r.Context(), req.ExportJobID)
		if err != nil {
			switch {
			case errors.Is(err, upload.ErrNotConfigured):
				WriteError(w, http.StatusBadRequest, err.Error(), "NOT_CONFIGURED")
			case errors.Is(err, upload.ErrExportNotComplete):
				WriteError(w, http.StatusConflict, err.Error(), "EXPORT_NOT_COMPLETE")
			default:
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			}
			return
		}
		WriteJSON(w, http.StatusAccepted, UploadResponse{JobID: job.ID})
	}
}

func dismissErrorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Surface.Dismiss()
		w.WriteHeader(http.StatusNoContent)
	}
}
