// Package httpapi exposes the download/streaming engine over HTTP (spec
// section 6). Grounded on agent/agentserver/server.go's chi-router-plus-
// handler.Wrap shape: stats middleware, one route per concern, and errors
// mapped to status codes via handler.Errorf/ErrorStatus rather than ad hoc
// http.Error calls scattered through the handlers.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"

	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/lib/middleware"
	"github.com/angelasoler/hypertube/subtitle"
	"github.com/angelasoler/hypertube/utils/handler"
	"github.com/angelasoler/hypertube/utils/httputil"
	"github.com/angelasoler/hypertube/utils/log"
)

// JobService is the subset of job.Manager the router needs.
type JobService interface {
	Initiate(videoID, torrentID, userID, magnetURI string) (*job.DownloadJob, error)
	Get(jobID string) (*job.DownloadJob, error)
	Ready(jobID string) (*job.Readiness, error)
	List(limit, offset int) ([]*job.DownloadJob, int, error)
	ListByUser(userID string, limit, offset int) ([]*job.DownloadJob, int, error)
}

// SubtitleService is the subset of subtitle.Manager the router needs.
type SubtitleService interface {
	List(videoID string) ([]*subtitle.Record, error)
	Content(videoID, language string) ([]byte, error)
}

// CacheStats is the subset of cache.Manager the router needs.
type CacheStats interface {
	Stats() (entryCount int, totalBytes int64, capacityBytes int64, err error)
}

// VideoStreamer serves a byte-range video response, matching
// streaming.Handler.ServeVideo's func(w, r, jobID) error shape.
type VideoStreamer interface {
	ServeVideo(w http.ResponseWriter, r *http.Request, jobID string) error
}

// Config configures Server.
type Config struct {
	// DefaultPageSize is used when a list request omits ?limit.
	DefaultPageSize int `yaml:"default_page_size"`
	// MaxPageSize caps ?limit regardless of what the caller requests.
	MaxPageSize int `yaml:"max_page_size"`
	// Addr is the address Server.ListenAndServe binds to.
	Addr string `yaml:"addr"`
}

func (c Config) applyDefaults() Config {
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = 100
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	return c
}

// Server wires the HTTP surface to the engine's managers.
type Server struct {
	config    Config
	stats     tally.Scope
	jobs      JobService
	subtitles SubtitleService
	cache     CacheStats
	video     VideoStreamer
	authMW    func(http.Handler) http.Handler
}

// New constructs a Server. authMW may be nil, in which case no auth
// boundary is installed (used by tests exercising routes directly).
func New(
	config Config,
	stats tally.Scope,
	jobs JobService,
	subtitles SubtitleService,
	cache CacheStats,
	video VideoStreamer,
	authMW func(http.Handler) http.Handler,
) *Server {
	return &Server{
		config:    config.applyDefaults(),
		stats:     stats.Tagged(map[string]string{"module": "httpapi"}),
		jobs:      jobs,
		subtitles: subtitles,
		cache:     cache,
		video:     video,
		authMW:    authMW,
	}
}

// ListenAndServe is a blocking call that runs s on config.Addr.
func (s *Server) ListenAndServe() error {
	log.Infof("httpapi: listening on %s", s.config.Addr)
	return http.ListenAndServe(s.config.Addr, s.Handler())
}

// Handler builds the chi router for the engine's HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.StatusCounter(s.stats))
	r.Use(middleware.LatencyTimer(s.stats))
	if s.authMW != nil {
		r.Use(s.authMW)
	}

	r.Get("/health", handler.Wrap(s.healthHandler))

	r.Post("/streaming/download", handler.Wrap(s.createDownloadHandler))
	r.Get("/streaming/jobs/{jobId}", handler.Wrap(s.getJobHandler))
	r.Get("/streaming/jobs/{jobId}/ready", handler.Wrap(s.getJobReadyHandler))
	r.Get("/streaming/jobs", handler.Wrap(s.listJobsHandler))
	r.Get("/streaming/jobs/user/{userId}", handler.Wrap(s.listJobsByUserHandler))
	r.Get("/streaming/video/{jobId}", handler.Wrap(s.streamVideoHandler))
	r.Get("/streaming/subtitles/{videoId}", handler.Wrap(s.listSubtitlesHandler))
	r.Get("/streaming/subtitles/{videoId}/{lang}", handler.Wrap(s.getSubtitleHandler))
	r.Get("/streaming/cache/stats", handler.Wrap(s.cacheStatsHandler))

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) error {
	io.WriteString(w, "OK")
	return nil
}

func (s *Server) createDownloadHandler(w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return handler.Errorf("decode request: %s", err).Status(http.StatusBadRequest)
	}
	if req.VideoID == "" || req.UserID == "" {
		return handler.ErrorStatus(http.StatusBadRequest)
	}

	j, err := s.jobs.Initiate(req.VideoID, req.TorrentID, req.UserID, req.MagnetLink)
	if err != nil {
		log.With("video_id", req.VideoID, "user_id", req.UserID).Errorf("httpapi: initiate download: %s", err)
		return handler.Errorf("initiate download: %s", err)
	}

	return writeJSON(w, http.StatusAccepted, jobToDTO(j))
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) error {
	jobID, err := httputil.ParseParam(r, "jobId")
	if err != nil {
		return handler.Errorf("parse jobId param: %s", err).Status(http.StatusBadRequest)
	}

	j, err := s.jobs.Get(jobID)
	if err == job.ErrJobNotFound {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if err != nil {
		return handler.Errorf("get job: %s", err)
	}

	return writeJSON(w, http.StatusOK, jobToDTO(j))
}

func (s *Server) getJobReadyHandler(w http.ResponseWriter, r *http.Request) error {
	jobID, err := httputil.ParseParam(r, "jobId")
	if err != nil {
		return handler.Errorf("parse jobId param: %s", err).Status(http.StatusBadRequest)
	}

	ready, err := s.jobs.Ready(jobID)
	if err == job.ErrJobNotFound {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if err != nil {
		return handler.Errorf("get readiness: %s", err)
	}

	j, err := s.jobs.Get(jobID)
	if err != nil {
		return handler.Errorf("get job: %s", err)
	}

	return writeJSON(w, http.StatusOK, ReadyResponse{
		JobID:            jobID,
		Ready:            ready.Ready,
		Status:           string(ready.Status),
		Progress:         ready.Progress,
		FilePath:         ready.FilePath,
		DownloadedBytes:  j.DownloadedBytes,
		TotalBytes:       j.TotalBytes,
		DownloadSpeedBPS: j.DownloadSpeedBPS,
		ETASeconds:       j.ETASeconds,
		Peers:            j.Peers,
		CurrentPhase:     j.CurrentPhase,
		ErrorMessage:     j.ErrorMessage,
	})
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) error {
	limit, offset := s.parsePaging(r)
	jobs, total, err := s.jobs.List(limit, offset)
	if err != nil {
		return handler.Errorf("list jobs: %s", err)
	}
	return writeJSON(w, http.StatusOK, pagedJobs(jobs, total))
}

func (s *Server) listJobsByUserHandler(w http.ResponseWriter, r *http.Request) error {
	userID, err := httputil.ParseParam(r, "userId")
	if err != nil {
		return handler.Errorf("parse userId param: %s", err).Status(http.StatusBadRequest)
	}

	limit, offset := s.parsePaging(r)
	jobs, total, err := s.jobs.ListByUser(userID, limit, offset)
	if err != nil {
		return handler.Errorf("list jobs for user: %s", err)
	}
	return writeJSON(w, http.StatusOK, pagedJobs(jobs, total))
}

func pagedJobs(jobs []*job.DownloadJob, total int) PagedResponse[DownloadJobDTO] {
	items := make([]DownloadJobDTO, len(jobs))
	for i, j := range jobs {
		items[i] = jobToDTO(j)
	}
	return PagedResponse[DownloadJobDTO]{Items: items, Total: total}
}

func (s *Server) streamVideoHandler(w http.ResponseWriter, r *http.Request) error {
	jobID, err := httputil.ParseParam(r, "jobId")
	if err != nil {
		return handler.Errorf("parse jobId param: %s", err).Status(http.StatusBadRequest)
	}
	return s.video.ServeVideo(w, r, jobID)
}

func (s *Server) listSubtitlesHandler(w http.ResponseWriter, r *http.Request) error {
	videoID, err := httputil.ParseParam(r, "videoId")
	if err != nil {
		return handler.Errorf("parse videoId param: %s", err).Status(http.StatusBadRequest)
	}

	records, err := s.subtitles.List(videoID)
	if err != nil {
		return handler.Errorf("list subtitles: %s", err)
	}

	dtos := make([]SubtitleDTO, len(records))
	for i, rec := range records {
		dtos[i] = subtitleToDTO(rec)
	}
	return writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) getSubtitleHandler(w http.ResponseWriter, r *http.Request) error {
	videoID, err := httputil.ParseParam(r, "videoId")
	if err != nil {
		return handler.Errorf("parse videoId param: %s", err).Status(http.StatusBadRequest)
	}
	lang, err := httputil.ParseParam(r, "lang")
	if err != nil {
		return handler.Errorf("parse lang param: %s", err).Status(http.StatusBadRequest)
	}

	content, err := s.subtitles.Content(videoID, lang)
	if err == subtitle.ErrNotFound {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if err != nil {
		return handler.Errorf("get subtitle content: %s", err)
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, werr := w.Write(content)
	return werr
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) error {
	entryCount, totalBytes, capacityBytes, err := s.cache.Stats()
	if err != nil {
		return handler.Errorf("cache stats: %s", err)
	}
	return writeJSON(w, http.StatusOK, CacheStatsDTO{
		EntryCount:    entryCount,
		TotalBytes:    totalBytes,
		CapacityBytes: capacityBytes,
	})
}

func (s *Server) parsePaging(r *http.Request) (limit, offset int) {
	limit = s.config.DefaultPageSize
	if raw := httputil.GetQueryArg(r, "limit", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}
	if raw := httputil.GetQueryArg(r, "offset", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}
