package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	Name      string      `json:"name"`
	Command   string      `json:"command"`
	Args      []types.Arg `json:"args"`
	EmailList []string    `json:"email_list"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type progressRequest struct {
	Message string `json:"message"`
}

type activeCountResponse struct {
	Name   string `json:"name"`
	Prefix bool   `json:"prefix"`
	Count  int    `json:"count"`
}

func (handler *HttpRouteHandler) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", handler.authMiddleware(handler.apiSubmit))
	mux.HandleFunc("GET /api/jobs", handler.authMiddleware(handler.apiSearch))
	mux.HandleFunc("GET /api/jobs/active", handler.authMiddleware(handler.apiActiveCount))
	mux.HandleFunc("GET /api/jobs/queued", handler.authMiddleware(handler.apiQueued))
	mux.HandleFunc("GET /api/jobs/{id}", handler.authMiddleware(handler.apiGet))
	mux.HandleFunc("POST /api/jobs/{id}/status", handler.authMiddleware(handler.apiTransition))
	mux.HandleFunc("POST /api/jobs/{id}/progress", handler.authMiddleware(handler.apiProgress))
}

func (handler *HttpRouteHandler) apiError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		handler.log.Errorw("API request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
	}
	resp := errorResponse{Error: msg}
	var validation *custom_errors.ValidationError
	if errors.As(err, &validation) {
		resp.Error = "invalid request"
		resp.Details = validation.Messages()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return custom_errors.InvalidArgument("invalid JSON body: %v", err)
	}
	return nil
}

// apiSubmit answers 202 with the new job id, or 409 with the id of the
// same-name job that is still active.
func (handler *HttpRouteHandler) apiSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		handler.apiError(w, r, err)
		return
	}

	user := currentUser(r.Context())
	sub := types.Submission{
		Name:      req.Name,
		Command:   req.Command,
		Args:      req.Args,
		EmailList: req.EmailList,
	}
	if user.ID != "" {
		sub.Submitter = &user.ID
	}
	if len(sub.EmailList) == 0 && user.Email != "" {
		sub.EmailList = []string{user.Email}
	}

	res, err := handler.jobs.Submit(r.Context(), sub)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	if res.AlreadyRunning {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "a job with this name is already running",
			JobID: res.JobID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (handler *HttpRouteHandler) apiGet(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r.PathValue("id"))
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	job, err := handler.jobs.Status(r.Context(), jobID)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (handler *HttpRouteHandler) apiSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSearchFilter(r)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	result, err := handler.jobs.Search(r.Context(), filter)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (handler *HttpRouteHandler) apiActiveCount(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		handler.apiError(w, r, custom_errors.InvalidArgument("name is required"))
		return
	}
	prefix, _ := strconv.ParseBool(r.URL.Query().Get("prefix"))

	pattern := types.ExactName(name)
	if prefix {
		pattern = types.NamePrefix(name)
	}
	n, err := handler.jobs.ActiveCount(r.Context(), pattern)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activeCountResponse{Name: name, Prefix: prefix, Count: n})
}

// apiQueued lets workers poll for the oldest queued jobs.
func (handler *HttpRouteHandler) apiQueued(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := handler.jobs.Queued(r.Context(), limit)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []types.BatchJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (handler *HttpRouteHandler) apiTransition(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r.PathValue("id"))
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeBody(w, r, &req); err != nil {
		handler.apiError(w, r, err)
		return
	}
	to, err := state.Parse(req.Status)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}

	job, err := handler.jobs.Transition(r.Context(), jobID, to)
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (handler *HttpRouteHandler) apiProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r.PathValue("id"))
	if err != nil {
		handler.apiError(w, r, err)
		return
	}
	var req progressRequest
	if err := decodeBody(w, r, &req); err != nil {
		handler.apiError(w, r, err)
		return
	}
	if err := handler.jobs.SetProgress(r.Context(), jobID, req.Message); err != nil {
		handler.apiError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
