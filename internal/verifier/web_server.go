package verifier

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/types"
	"github.com/pkg/errors"
)

// ProgressReporter is what the web server asks for progress.
type ProgressReporter interface {
	GetProgress(ctx context.Context) (Progress, error)
}

// WebServer serves read-only progress over HTTP.
type WebServer struct {
	port     int
	reporter ProgressReporter
	logger   *logger.Logger
	srv      *http.Server
}

// Progress represents the structure of the JSON response from the
// progress endpoint.
type Progress struct {
	RunID   string              `json:"runID"`
	Mode    string              `json:"mode"`
	Current *CollectionProgress `json:"current,omitempty"`
	Workers WorkerStatusMap     `json:"workers"`
	Done    []CollectionSummary `json:"done"`
}

// CollectionProgress describes the collection being verified right now.
type CollectionProgress struct {
	Namespace  string              `json:"namespace"`
	Processed  types.DocumentCount `json:"processed"`
	Total      types.DocumentCount `json:"total"`
	Units      types.UnitCount     `json:"units"`
	Mismatches uint64              `json:"mismatches"`
}

// CollectionSummary is a finished collection's line in Progress.
type CollectionSummary struct {
	Namespace  string              `json:"namespace"`
	Passed     bool                `json:"passed"`
	Error      string              `json:"error,omitempty"`
	Processed  types.DocumentCount `json:"processed"`
	Mismatches uint64              `json:"mismatches"`
	Elapsed    string              `json:"elapsed"`
}

// GetProgress reports the run's progress so far.
func (verifier *Verifier) GetProgress(_ context.Context) (Progress, error) {
	progress := Progress{
		RunID:   verifier.runID,
		Mode:    verifier.cfg.Mode.String(),
		Workers: verifier.workerTracker.Load(),
		Done:    []CollectionSummary{},
	}

	results := verifier.Results()
	finished := map[string]bool{}

	for _, res := range results {
		summary := CollectionSummary{
			Namespace:  res.Namespace,
			Passed:     res.Passed,
			Processed:  res.Processed,
			Mismatches: res.Mismatches,
			Elapsed:    res.Elapsed.String(),
		}
		if res.Err != nil {
			summary.Error = res.Err.Error()
		}

		progress.Done = append(progress.Done, summary)
		finished[res.Namespace] = true
	}

	if cur := verifier.current.Load(); cur != nil && !finished[cur.Namespace] {
		progress.Current = &CollectionProgress{
			Namespace:  cur.Namespace,
			Processed:  cur.Processed(),
			Total:      cur.Total,
			Units:      cur.Units,
			Mismatches: cur.mismatches.Load(),
		}
	}

	return progress, nil
}

// NewWebServer creates a WebServer object
func NewWebServer(port int, reporter ProgressReporter, logger *logger.Logger) *WebServer {
	return &WebServer{
		port:     port,
		reporter: reporter,
		logger:   logger,
	}
}

// A wrapper around gin.ResponseWriter with its own buffer.
// This lets us capture the response body and log it separately.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write stores the provided bytes before calling (gin.ResponseWriter).Write.
func (rbw responseBodyWriter) Write(b []byte) (int, error) {
	rbw.body.Write(b)
	return rbw.ResponseWriter.Write(b)
}

// RequestAndResponseLogger is the middleware for logging the request and response.
func (server *WebServer) RequestAndResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()

		// A UUID to correlate each request with a response in the logs.
		traceID := uuid.New().String()

		var buf []byte
		if c.Request.Body != nil {
			// The request body can only be read once.
			buf, _ = io.ReadAll(c.Request.Body)
		}
		server.logger.Debug().Str("uri", c.Request.RequestURI).
			Str("method", c.Request.Method).
			Str("body", string(buf)).
			Str("clientIP", c.ClientIP()).
			Str("traceID", traceID).
			Msg("received request")

		c.Request.Body = io.NopCloser(bytes.NewBuffer(buf))

		c.Header("Trace-Id", traceID)

		rbw := &responseBodyWriter{ResponseWriter: c.Writer, body: bytes.NewBufferString("")}
		c.Writer = rbw

		c.Next()

		server.logger.Debug().Int("status", c.Writer.Status()).
			Str("body", rbw.body.String()).
			Str("traceID", traceID).
			Str("latency", time.Since(t).String()).
			Msg("sent response")
	}
}

func (server *WebServer) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(server.RequestAndResponseLogger(), gin.Recovery())

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/progress", server.progressEndpoint)
		}
	}

	router.HandleMethodNotAllowed = true

	return router
}

// Run serves until ctx ends or the listener fails. This is a blocking
// call and should happen once per WebServer.
func (server *WebServer) Run(ctx context.Context) error {
	server.srv = &http.Server{
		Addr:    "0.0.0.0:" + strconv.Itoa(server.port),
		Handler: server.setupRouter(),
	}

	server.logger.Info().Int("port", server.port).Msg("Running webserver.")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			server.logger.Error().Err(err).Msg("Web server failed.")
			return errors.Wrap(err, "serving progress")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := server.srv.Shutdown(shutdownCtx); err != nil {
		server.logger.Error().Err(err).Msg("Web server forced to shutdown")
		return errors.Wrap(err, "shutting down web server")
	}

	return nil
}

// progressEndpoint implements the gin handle for the progress endpoint.
func (server *WebServer) progressEndpoint(c *gin.Context) {
	progress, err := server.reporter.GetProgress(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"progress": progress,
	})
}
