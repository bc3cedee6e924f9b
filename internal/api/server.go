package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secdash/internal/classify"
	"secdash/internal/config"
	"secdash/internal/engine"
	"secdash/internal/filter"
	"secdash/internal/logging"
	"secdash/internal/model"
	"secdash/internal/snapshots"
	"secdash/internal/source"
)

const maxBody = 1 << 20

type Server struct {
	cfg      *config.Manager
	dash     *engine.Dashboard
	latest   *snapshots.Latest
	history  *snapshots.History
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type Options struct {
	Config   *config.Manager
	Latest   *snapshots.Latest
	History  *snapshots.History
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Version  string
}

func NewServer(dash *engine.Dashboard, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      opts.Config,
		dash:     dash,
		latest:   opts.Latest,
		history:  opts.History,
		gatherer: opts.Gatherer,
		logger:   logging.OrDiscard(opts.Logger),
		version:  opts.Version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /pages", s.handlePages)
	mux.HandleFunc("POST /pages/{id}/refresh", s.handlePageRefresh)
	mux.HandleFunc("POST /pages/{id}/pause", s.handlePagePause)
	mux.HandleFunc("POST /pages/{id}/resume", s.handlePageResume)
	mux.HandleFunc("POST /pages/{id}/interval", s.handlePageInterval)
	mux.HandleFunc("POST /pages/{id}/process", s.handleSelectProcess)
	mux.HandleFunc("GET /pages/{id}/bookmarks", s.handleBookmarks)
	mux.HandleFunc("POST /pages/{id}/bookmarks", s.handleSaveBookmark)
	mux.HandleFunc("POST /pages/{id}/bookmarks/{bid}/load", s.handleLoadBookmark)
	mux.HandleFunc("DELETE /pages/{id}/bookmarks/{bid}", s.handleDeleteBookmark)
	mux.HandleFunc("GET /views/{id}", s.handleView)
	mux.HandleFunc("GET /views/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /views/{id}/criteria", s.handleGetCriteria)
	mux.HandleFunc("POST /views/{id}/criteria", s.handleSetCriteria)
	mux.HandleFunc("POST /views/{id}/sort", s.handleSort)
	mux.HandleFunc("POST /views/{id}/params", s.handleParams)
	mux.HandleFunc("POST /views/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /views/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /views/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /views/{id}/interval", s.handleInterval)
	mux.HandleFunc("GET /scales", s.handleScales)
	mux.HandleFunc("POST /admin/clear", s.handleClear)
	mux.HandleFunc("GET /admin/config", s.handleGetConfig)
	mux.HandleFunc("PUT /admin/config", s.handlePutConfig)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves the API until ctx is done. It returns nil when the API is
// disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)

	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status     string `json:"status"`
	Time       string `json:"time"`
	Version    string `json:"version"`
	ConfigPath string `json:"config_path,omitempty"`
	Pages      int    `json:"pages"`
	Views      int    `json:"views"`
	Failing    int    `json:"failing_views,omitempty"`
	Storage    bool   `json:"storage"`
	Publish    bool   `json:"publish"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.dash.Statuses()
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Pages:   len(s.dash.Pages()),
		Views:   len(statuses),
	}
	for _, st := range statuses {
		if st.LastError != "" {
			resp.Failing++
		}
	}
	if resp.Failing > 0 {
		resp.Status = "degraded"
	}
	if s.cfg != nil {
		cfg := s.cfg.Get()
		resp.ConfigPath = s.cfg.Path()
		resp.Storage = cfg.Storage.Enabled
		resp.Publish = cfg.Publish.Enabled
	}
	writeJSON(w, http.StatusOK, resp)
}

type pageResponse struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	IntervalMs int64           `json:"interval_ms"`
	Bookmarks  int             `json:"bookmarks"`
	Views      []engine.Status `json:"views"`
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	pages := s.dash.Pages()
	out := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		views := p.Views()
		statuses := make([]engine.Status, 0, len(views))
		for _, v := range views {
			statuses = append(statuses, v.Status())
		}
		out = append(out, pageResponse{
			ID:         p.ID(),
			Title:      p.Title(),
			IntervalMs: p.Interval().Milliseconds(),
			Bookmarks:  p.Bookmarks().Len(),
			Views:      statuses,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out, "count": len(out)})
}

func (s *Server) handlePageRefresh(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	if err := p.RefreshAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePagePause(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	if err := p.PauseAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePageResume(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	if err := p.ResumeAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePageInterval(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	d, err := readInterval(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := p.SetInterval(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "interval_ms": d.Milliseconds()})
}

func (s *Server) handleSelectProcess(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := engine.SelectProcess(p, strings.TrimSpace(req.Name)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "process": req.Name})
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	list := p.Bookmarks().List()
	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": list, "count": len(list)})
}

func (s *Server) handleSaveBookmark(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		Name   string `json:"name"`
		ViewID string `json:"view_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := p.SaveBookmark(req.Name, req.ViewID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleLoadBookmark(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		ViewID string `json:"view_id"`
	}
	if err := readOptionalJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := p.LoadBookmark(r.PathValue("bid"), req.ViewID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"view_id": v.ID(), "criteria": v.Criteria()})
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	if err := p.DeleteBookmark(r.PathValue("bid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	u, found := s.latestFor(v)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no update yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": v.Status(), "update": u})
}

func (s *Server) latestFor(v *engine.View) (model.Update, bool) {
	if s.latest != nil {
		if u, ok := s.latest.Get(v.ID()); ok {
			return u, true
		}
	}
	return v.Latest()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"history": []snapshots.Entry{}, "count": 0})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	var list []snapshots.Entry
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := filter.ParseTimestamp(raw, time.UTC)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.history.Since(v.ID(), ts)
	} else {
		list = s.history.List(v.ID(), limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": list, "count": len(list)})
}

func (s *Server) handleGetCriteria(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	c := v.Criteria()
	writeJSON(w, http.StatusOK, map[string]any{
		"criteria":   c,
		"active":     c.ActiveCount(),
		"sort":       v.Sort(),
		"categories": v.Categories(),
	})
}

func (s *Server) handleSetCriteria(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var c filter.Criteria
	if err := readJSON(w, r, &c); err != nil {
		writeError(w, err)
		return
	}
	if err := v.SetCriteria(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"criteria": v.Criteria(), "active": c.ActiveCount()})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	var req struct {
		filter.SortSpec
		Toggle string `json:"toggle,omitempty"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Toggle != "" {
		spec, err := v.ToggleSort(req.Toggle)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sort": spec})
		return
	}
	if err := v.SetSort(req.SortSpec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sort": req.SortSpec})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	params := v.Params()
	if err := readJSON(w, r, &params); err != nil {
		writeError(w, err)
		return
	}
	if err := v.SetParams(params); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]source.Params{"params": v.Params()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := v.RefreshNow(); err != nil {
		if errors.Is(err, engine.ErrCoolingDown) {
			secs := int(v.CooldownRemaining().Seconds() + 0.999)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := v.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := v.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	d, err := readInterval(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := v.SetInterval(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Status())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	_ = readOptionalJSON(w, r, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.latest != nil {
			s.latest.Clear()
		}
		if s.history != nil {
			s.history.Clear()
		}
		if err := s.dash.ResetSources(); err != nil {
			writeError(w, err)
			return
		}
	case "feeds":
		if err := s.dash.ResetSources(); err != nil {
			writeError(w, err)
			return
		}
	case "history":
		if s.history != nil {
			s.history.Clear()
		}
	case "snapshots":
		if s.latest != nil {
			s.latest.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type scaleResponse struct {
	Name   string           `json:"name"`
	Levels []classify.Level `json:"levels"`
}

func (s *Server) handleScales(w http.ResponseWriter, r *http.Request) {
	reg := s.dash.Scales()
	out := make([]scaleResponse, 0)
	for _, name := range reg.Names() {
		if sc, ok := reg.Get(name); ok {
			out = append(out, scaleResponse{Name: name, Levels: sc.Levels()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "scales": out})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Get())
}

// handlePutConfig takes a full YAML or JSON config, persists it and pushes
// the reloadable parts into the running dashboard.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		writeError(w, model.ErrNotFound)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, errBadRequest(err))
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		writeError(w, errBadRequest(err))
		return
	}
	if err := s.cfg.Update(cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.dash.ApplyConfig(cfg); err != nil {
		s.logger.Warn("config update applied with errors", "err", err)
		writeError(w, err)
		return
	}
	s.logger.Info("config updated", "path", s.cfg.Path())
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) (*engine.Page, bool) {
	p, ok := s.dash.Page(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "page not found"})
	}
	return p, ok
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) (*engine.View, bool) {
	v, ok := s.dash.View(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "view not found"})
	}
	return v, ok
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return errBadRequest(err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errBadRequest(err)
	}
	return nil
}

// readOptionalJSON accepts an empty body.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return errBadRequest(err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errBadRequest(err)
	}
	return nil
}

// readInterval takes {"interval": "10s"} or {"interval_ms": 10000}.
func readInterval(w http.ResponseWriter, r *http.Request) (time.Duration, error) {
	var req struct {
		Interval   string `json:"interval"`
		IntervalMs int64  `json:"interval_ms"`
	}
	if err := readJSON(w, r, &req); err != nil {
		return 0, err
	}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			return 0, errBadRequest(err)
		}
		return d, nil
	}
	if req.IntervalMs > math.MaxInt64/int64(time.Millisecond) {
		return 0, errBadRequest(errors.New("interval_ms out of range"))
	}
	return time.Duration(req.IntervalMs) * time.Millisecond, nil
}

func errBadRequest(err error) error {
	return errors.Join(model.ErrInvalidParameter, err)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrCoolingDown):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrDuplicateName), errors.Is(err, model.ErrSchedulerMisuse):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidParameter):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
