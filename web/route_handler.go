package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cdrtools/cdrbatch/client"
	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// HttpRouteHandler serves the status pages, the admin pages and the JSON API.
type HttpRouteHandler struct {
	jobs     *client.BatchJobs
	sessions SessionResolver
	addr     string
	log      *zap.SugaredLogger
}

func NewRouteHandler(jobs *client.BatchJobs, sessions SessionResolver, addr string, log *zap.SugaredLogger) *HttpRouteHandler {
	return &HttpRouteHandler{
		jobs:     jobs,
		sessions: sessions,
		addr:     addr,
		log:      logger.OrNop(log),
	}
}

// Routes returns the full handler tree, middleware included.
func (handler *HttpRouteHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", handler.authMiddleware(handler.handleStatus))
	mux.HandleFunc("GET /jobs", handler.authMiddleware(handler.handleJobs))
	mux.HandleFunc("GET /admin/stalled", handler.authMiddleware(handler.handleStalled))
	mux.HandleFunc("POST /admin/stalled", handler.authMiddleware(handler.handleAbortStalled))
	mux.HandleFunc("POST /admin/purge", handler.authMiddleware(handler.handlePurge))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/jobs?"+r.URL.RawQuery, http.StatusSeeOther)
	})

	handler.registerAPI(mux)

	return requestIDMiddleware(loggingMiddleware(handler.log, mux))
}

// Serve listens until ctx is done and then shuts down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              handler.addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		handler.log.Infow("HTTP server listening", "addr", handler.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	handler.log.Infow("HTTP server stopped")
	return nil
}

// page starts the template data every page shares. The session token is
// carried in links only when it arrived in the URL or form.
func (handler *HttpRouteHandler) page(r *http.Request) DataMap {
	data := NewDataMap().Add("User", currentUser(r.Context()))
	if token := r.FormValue(sessionParam); token != "" {
		data.Add("Session", token)
	}
	return data
}

// fail renders an error page. Store outages are logged as errors because
// the user only sees a generic message.
func (handler *HttpRouteHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		handler.log.Errorw("Request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
	}
	handler.render(w, status, "error", handler.page(r).Add("Message", msg).Data)
}

func (handler *HttpRouteHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.FormValue("jobId")
	jobID, err := parseJobID(raw)
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	job, err := handler.jobs.Status(r.Context(), jobID)
	if errors.Is(err, custom_errors.ErrNoSuchJob) {
		handler.render(w, http.StatusNotFound, "nosuchjob", handler.page(r).Add("JobID", jobID).Data)
		return
	}
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	handler.render(w, http.StatusOK, "status", handler.page(r).Add("Job", job).Data)
}

func (handler *HttpRouteHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	form := map[string]string{}
	for _, key := range []string{"jobId", "jobName", "jobAge", "jobStatus"} {
		form[key] = r.FormValue(key)
	}
	data := handler.page(r).
		Add("Form", form).
		Add("Statuses", state.AllStatuses)

	filter, err := parseSearchFilter(r)
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	result, err := handler.jobs.Search(r.Context(), filter)
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	handler.render(w, http.StatusOK, "jobs", data.Add("Result", result).Data)
}

func (handler *HttpRouteHandler) handleStalled(w http.ResponseWriter, r *http.Request) {
	handler.renderStalled(w, r, nil, "")
}

func (handler *HttpRouteHandler) handleAbortStalled(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		handler.fail(w, r, custom_errors.InvalidArgument("bad form: %v", err))
		return
	}

	var ids []int64
	for _, raw := range r.PostForm["jobId"] {
		id, err := parseJobID(raw)
		if err != nil {
			handler.fail(w, r, err)
			return
		}
		ids = append(ids, id)
	}

	aborted, err := handler.jobs.AbortStalled(r.Context(), currentUser(r.Context()), ids)
	if errors.Is(err, custom_errors.ErrPermissionDenied) {
		handler.fail(w, r, err)
		return
	}
	failure := ""
	if err != nil {
		failure = err.Error()
	}
	handler.renderStalled(w, r, aborted, failure)
}

func (handler *HttpRouteHandler) renderStalled(w http.ResponseWriter, r *http.Request, aborted []int64, failure string) {
	user := currentUser(r.Context())
	if !user.Can(types.PermManageBatchJobs) {
		handler.fail(w, r, custom_errors.PermissionDenied(user.Name, types.PermManageBatchJobs))
		return
	}

	jobs, err := handler.jobs.Stalled(r.Context())
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	handler.render(w, http.StatusOK, "stalled", handler.page(r).
		Add("Jobs", jobs).
		Add("Aborted", aborted).
		Add("Failure", failure).
		Data)
}

func (handler *HttpRouteHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.FormValue("days"))
	days, err := strconv.Atoi(raw)
	if err != nil {
		handler.fail(w, r, custom_errors.InvalidArgument("invalid number of days %q", raw))
		return
	}

	deleted, err := handler.jobs.Purge(r.Context(), currentUser(r.Context()), days)
	if err != nil {
		handler.fail(w, r, err)
		return
	}

	handler.render(w, http.StatusOK, "purge", handler.page(r).
		Add("Deleted", deleted).
		Add("Days", days).
		Data)
}
