package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(status pipeline.Status) string {
		return "badge badge-" + strings.ToLower(strings.ReplaceAll(string(status), " ", "-"))
	},
	"actionClass": func(action string) string {
		return "action action-" + strings.ToLower(action)
	},
	"relTime": relTime,
}

// Source is the live pipeline state the server renders.
type Source interface {
	Branches() []string
	Rows(branch string) []pipeline.Row
	Poll(ctx context.Context, branch string) (*orchestrator.PollResult, error)
	Active() *orchestrator.ActiveSet
}

// EventStore reads the event log.
type EventStore interface {
	RecentTransitions(branch string, limit int) ([]db.Transition, error)
	RecentTriggers(limit int) ([]db.Trigger, error)
}

// Subscriber hands out notification streams.
type Subscriber interface {
	Subscribe(buffer int) (<-chan tracker.Notification, func())
}

// Options configures a Server. Events and Stream may be nil.
type Options struct {
	Port   int
	Events EventStore
	Stream Subscriber
	Logger *slog.Logger
}

// Server is the read-only web view of pipeline rows and transitions.
type Server struct {
	source Source
	events EventStore
	stream Subscriber
	port   int
	logger *slog.Logger
	now    func() time.Time

	dashboardTmpl *template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(source Source, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source:        source,
		events:        opts.Events,
		stream:        opts.Stream,
		port:          opts.Port,
		logger:        logger,
		now:           time.Now,
		dashboardTmpl: mustParseTmpl("base.html", "dashboard.html"),
	}
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/pipelines", s.handlePipelines)
	mux.HandleFunc("GET /api/active", s.handleActive)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	return mux
}

// Start listens on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("glwatch UI listening", "url", fmt.Sprintf("http://localhost:%d", s.port))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// branchParam reads ?branch=, defaulting to the first watched branch.
func (s *Server) branchParam(r *http.Request) string {
	if b := r.URL.Query().Get("branch"); b != "" {
		return b
	}
	if branches := s.source.Branches(); len(branches) > 0 {
		return branches[0]
	}
	return ""
}

// rowsFor returns the cached rows for branch, polling once when nothing has
// been fetched yet.
func (s *Server) rowsFor(ctx context.Context, branch string) ([]pipeline.Row, error) {
	if rows := s.source.Rows(branch); rows != nil {
		return rows, nil
	}
	res, err := s.source.Poll(ctx, branch)
	if res == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("poll had errors", "branch", branch, "error", err)
	}
	return res.Rows, nil
}
