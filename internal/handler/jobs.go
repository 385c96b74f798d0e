package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/http_srv"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/service"
)

type AdmissionService interface {
	SubmitSingle(ctx context.Context, path string, p model.Priority, source string) (*model.Job, error)
	SubmitGroup(ctx context.Context, kind model.OriginKind, ref string, paths []string, p model.Priority,
		source string) (*service.GroupResult, error)
	SubmitEvent(ctx context.Context, source string, paths []string) (*service.GroupResult, error)
	SubmitScan(ctx context.Context, req service.ScanRequest) (*service.ScanResult, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
	CancelGroup(ctx context.Context, groupID string) (int, error)
}

type StatusService interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, f model.JobFilter) ([]*model.Job, error)
	GetGroup(ctx context.Context, id string) (*model.GroupView, error)
	QueueStats(ctx context.Context) *model.QueueStats
}

type submitJobRequest struct {
	Path     string `json:"path" validate:"required"`
	Priority string `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
}

type submitGroupRequest struct {
	Origin   model.OriginKind `json:"origin" validate:"omitempty,oneof=event scan"`
	Ref      string           `json:"ref" validate:"max=1024"`
	Paths    []string         `json:"paths" validate:"required,min=1,max=1000,dive,required"`
	Priority string           `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
}

type batchRequest struct {
	Path       string   `json:"path" validate:"required"`
	Recursive  *bool    `json:"recursive"`
	Extensions []string `json:"extensions" validate:"max=32,dive,required"`
	Priority   string   `json:"priority" validate:"omitempty,oneof=urgent high normal low"`
	DryRun     bool     `json:"dry_run"`
}

type groupResponse struct {
	GroupID  string              `json:"group_id"`
	JobIDs   []string            `json:"job_ids"`
	Rejected []service.Rejection `json:"rejected,omitempty"`
}

type cancelGroupResponse struct {
	GroupID   string `json:"group_id"`
	Cancelled int    `json:"cancelled"`
}

type listResponse struct {
	Items []*model.Job `json:"items"`
	Next  bool         `json:"next"`
}

type Jobs struct {
	adm AdmissionService
	st  StatusService
	log *wlog.Logger
}

func NewJobs(adm AdmissionService, st StatusService, s *http_srv.Server, l *wlog.Logger) *Jobs {
	h := &Jobs{
		adm: adm,
		st:  st,
		log: l.With(wlog.String("handler", "jobs")),
	}

	s.Route("/api/v1", h.routes)

	return h
}

func (h *Jobs) routes(r chi.Router) {
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Delete("/jobs/{id}", h.CancelJob)

	r.Post("/groups", h.SubmitGroup)
	r.Get("/groups/{id}", h.GetGroup)
	r.Delete("/groups/{id}", h.CancelGroup)

	r.Post("/batch", h.Batch)
	r.Get("/queue", h.Queue)
}

func (h *Jobs) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	p, err := model.ParsePriority(req.Priority)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	j, err := h.adm.SubmitSingle(r.Context(), req.Path, p, service.SourceManual)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	respondJSON(w, http.StatusCreated, j)
}

func (h *Jobs) ListJobs(w http.ResponseWriter, r *http.Request) {
	var f model.JobFilter
	if err := queryDecoder.Decode(&f, r.URL.Query()); err != nil {
		respondError(w, r, h.log, errorsJoinInvalid(err), nil)

		return
	}

	if err := validate.Struct(&f); err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	limit := f.Limit
	if limit == 0 {
		limit = 100
	}

	// one extra row tells whether another page exists
	f.Limit = limit + 1

	jobs, err := h.st.ListJobs(r.Context(), f)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	res := listResponse{Items: jobs}
	if len(jobs) > limit {
		res.Items = jobs[:limit]
		res.Next = true
	}

	if res.Items == nil {
		res.Items = []*model.Job{}
	}

	respondJSON(w, http.StatusOK, res)
}

func (h *Jobs) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.st.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	respondJSON(w, http.StatusOK, j)
}

func (h *Jobs) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.adm.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	code := http.StatusOK
	if j.Status == model.StatusRunning {
		// cancellation lands when the running operation returns
		code = http.StatusAccepted
	}

	respondJSON(w, code, j)
}

func (h *Jobs) SubmitGroup(w http.ResponseWriter, r *http.Request) {
	var req submitGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	p, err := model.ParsePriority(req.Priority)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	if req.Origin == "" {
		req.Origin = model.OriginEvent
	}

	res, err := h.adm.SubmitGroup(r.Context(), req.Origin, req.Ref, req.Paths, p, service.SourceManual)
	if err != nil {
		var details any

		switch {
		case res != nil && res.Group != nil:
			// some jobs are already queued; a retry must not submit them again
			details = newGroupResponse(res)
		case res != nil && len(res.Rejected) > 0:
			details = res.Rejected
		}

		respondError(w, r, h.log, err, details)

		return
	}

	respondJSON(w, http.StatusCreated, newGroupResponse(res))
}

func (h *Jobs) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.st.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	respondJSON(w, http.StatusOK, g)
}

func (h *Jobs) CancelGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.adm.CancelGroup(r.Context(), id)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	respondJSON(w, http.StatusOK, cancelGroupResponse{GroupID: id, Cancelled: n})
}

func (h *Jobs) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	p, err := model.ParsePriority(req.Priority)
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}

	res, err := h.adm.SubmitScan(r.Context(), service.ScanRequest{
		Root:       req.Path,
		Recursive:  recursive,
		Extensions: req.Extensions,
		Priority:   p,
		DryRun:     req.DryRun,
	})
	if err != nil {
		respondError(w, r, h.log, err, nil)

		return
	}

	code := http.StatusAccepted
	if res.DryRun {
		code = http.StatusOK
	}

	respondJSON(w, code, res)
}

func (h *Jobs) Queue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.st.QueueStats(r.Context()))
}

func newGroupResponse(res *service.GroupResult) groupResponse {
	out := groupResponse{
		GroupID:  res.Group.ID,
		JobIDs:   make([]string, 0, len(res.Jobs)),
		Rejected: res.Rejected,
	}

	for _, j := range res.Jobs {
		out.JobIDs = append(out.JobIDs, j.ID)
	}

	return out
}
