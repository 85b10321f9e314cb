package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/cdrtools/cdrbatch/internal/state"
)

//go:embed templates/*.html
var templateFiles embed.FS

var templates = loadTemplates()

func loadTemplates() map[string]*template.Template {
	funcMap := template.FuncMap{
		"StatusBadgeClass": StatusBadgeClass,
		"Truncate":         truncateProgress,
	}
	pages := []string{"status", "nosuchjob", "jobs", "stalled", "purge", "error"}
	out := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		out[page] = template.Must(template.New("layout.html").Funcs(funcMap).
			ParseFS(templateFiles, "templates/layout.html", "templates/"+page+".html"))
	}
	return out
}

func (handler *HttpRouteHandler) render(w http.ResponseWriter, status int, tmplName string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates[tmplName].ExecuteTemplate(w, "layout.html", data); err != nil {
		handler.log.Errorw("Failed to render page", "template", tmplName, "error", err)
	}
}

func StatusBadgeClass(status state.JobStatus) string {
	switch status {
	case state.StatusQueued:
		return "badge bg-info"
	case state.StatusInitiating, state.StatusInProcess:
		return "badge bg-primary"
	case state.StatusCompleted:
		return "badge bg-success"
	case state.StatusAborted:
		return "badge bg-danger"
	case state.StatusSuspendRequested, state.StatusSuspended, state.StatusResumeRequested:
		return "badge bg-warning"
	case state.StatusStopRequested, state.StatusStopped:
		return "badge bg-secondary"
	default:
		return "badge bg-light text-dark"
	}
}
