package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper"
	"github.com/psantana5/ffmpeg-rife/pkg/api"
	"github.com/psantana5/ffmpeg-rife/pkg/auth"
	"github.com/psantana5/ffmpeg-rife/pkg/cleanup"
	"github.com/psantana5/ffmpeg-rife/pkg/config"
	"github.com/psantana5/ffmpeg-rife/pkg/interp"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/media"
	"github.com/psantana5/ffmpeg-rife/pkg/metrics"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/pipeline"
	"github.com/psantana5/ffmpeg-rife/pkg/ratelimit"
	"github.com/psantana5/ffmpeg-rife/pkg/shutdown"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
	rtls "github.com/psantana5/ffmpeg-rife/pkg/tls"
	"github.com/psantana5/ffmpeg-rife/pkg/tracing"
)

const (
	logRotateSize      = 100 << 20
	housekeepingPeriod = time.Minute
	limiterIdleTTL     = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	serveCmd.Flags().String("storage", "/data", "root directory for uploads and job data")
	serveCmd.Flags().String("rife-repo", "/opt/rife", "path of the RIFE checkout")
	serveCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	v.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
	v.BindPFlag("storage", serveCmd.Flags().Lookup("storage"))
	v.BindPFlag("rife_repo", serveCmd.Flags().Lookup("rife-repo"))
	v.BindPFlag("log.level", serveCmd.Flags().Lookup("log-level"))
}

// app is a fully wired server
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *store.MemoryStore
	tracer  *tracing.Provider
	limiter *ratelimit.Limiter
	cleanup *cleanup.Manager
	handler http.Handler
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir == "" {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}
	return logging.NewFileLogger(cfg.Log.Dir, "rifed", level, cfg.Log.JSON)
}

// newApp wires every component; runner executes the external tools
func newApp(cfg *config.Config, logger *logging.Logger, runner wrapper.Runner) (*app, error) {
	ws, err := pipeline.NewWorkspace(cfg.Storage)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "rifed",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewVerifier(cfg.APIKey, cfg.APIKeyHash)
	if err != nil {
		return nil, err
	}

	s := store.NewMemoryStore()
	opts := []pipeline.Option{pipeline.WithTracer(tp.Tracer())}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(s)
		opts = append(opts, pipeline.WithRecorder(m))
	}

	orch := pipeline.NewOrchestrator(s,
		media.NewFFmpeg(cfg.FFmpegBin, runner),
		interp.NewRIFE(cfg.PythonBin, cfg.RifeRepo, runner),
		ws, logger, opts...)

	h := api.NewHandler(s, orch, logger)
	h.SetMaxUploadBytes(cfg.MaxUploadBytes())

	r := mux.NewRouter()
	r.Use(tracing.HTTPMiddleware(tp))
	if m != nil {
		h.SetMetricsRecorder(m)
		r.Use(m.Middleware)
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}
	r.Use(api.LoggingMiddleware(logger))

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		tracer:  tp,
		cleanup: cleanup.NewManager(cleanup.Config{Retention: cfg.UploadRetention}, ws.UploadsDir(), logger),
	}
	if cfg.RateLimit.RPS > 0 {
		a.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		r.Use(a.limiter.Middleware(ratelimit.KeyFunc(cfg.RateLimit.TrustProxy), ratelimit.SubmissionsOnly))
	}
	r.Use(verifier.Middleware(api.IsPublicPath))
	h.RegisterRoutes(r)

	a.handler = api.CORS(cfg.CORSOrigins)(r)
	if !verifier.Enabled() {
		logger.Warn("no api key configured, the API is open")
	}
	return a, nil
}

// runningJobs reports how many pipelines are still in flight
func (a *app) runningJobs() int {
	n := 0
	for _, j := range a.store.GetAllJobs() {
		if j.Status == models.JobStatusRunning {
			n++
		}
	}
	return n
}

// housekeeping rotates the log file and forgets idle rate-limit keys
func (a *app) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.logger.RotateIfNeeded(logRotateSize); err != nil {
				a.logger.Warn("log rotation failed", logging.Fields{"error": err})
			}
			if a.limiter != nil {
				a.limiter.CleanupOldLimiters(limiterIdleTTL)
			}
		}
	}
}

// checkTools warns early about a missing ffmpeg or RIFE checkout. Jobs would
// fail with the same cause later.
func checkTools(cfg *config.Config, logger *logging.Logger) {
	if _, err := exec.LookPath(cfg.FFmpegBin); err != nil {
		logger.Warn("ffmpeg not found", logging.Fields{"ffmpeg_bin": cfg.FFmpegBin, "error": err})
	}
	if _, err := exec.LookPath(cfg.PythonBin); err != nil {
		logger.Warn("python not found", logging.Fields{"python_bin": cfg.PythonBin, "error": err})
	}
	script := filepath.Join(cfg.RifeRepo, interp.ScriptName)
	if _, err := os.Stat(script); err != nil {
		logger.Warn("RIFE script not found", logging.Fields{"path": script, "error": err})
	}
}

// serverTLS returns nil when the listener should stay plain HTTP
func serverTLS(cfg *config.Config, logger *logging.Logger) (*tls.Config, error) {
	if !cfg.TLS.Enabled() {
		return nil, nil
	}
	if cfg.TLS.SelfSigned {
		created, err := rtls.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hosts...)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Warn("generated a self-signed certificate", logging.Fields{"cert_file": cfg.TLS.CertFile})
		}
	}
	return rtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
}

// serve listens on srv.Addr, holding at most maxConns connections open when
// maxConns > 0
func serve(srv *http.Server, maxConns int) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	if srv.TLSConfig != nil {
		return srv.ServeTLS(ln, "", "")
	}
	return srv.Serve(ln)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	checkTools(cfg, logger)
	a, err := newApp(cfg, logger, wrapper.NewExecRunner(logger))
	if err != nil {
		logger.Close()
		return fmt.Errorf("failed to start: %w", err)
	}
	tlsConfig, err := serverTLS(cfg, logger)
	if err != nil {
		logger.Close()
		return fmt.Errorf("failed to set up TLS: %w", err)
	}

	// pipelines run inside the request, so responses may take minutes
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := shutdown.New(cfg.ShutdownTimeout, logger)
	mgr.Register("logger", func(context.Context) error { return logger.Close() })
	mgr.Register("tracer", a.tracer.Shutdown)
	mgr.Register("jobs", shutdown.WaitForJobs(func() bool { return a.runningJobs() == 0 }, time.Second, "running jobs"))
	mgr.Register("http", shutdown.StopHTTPServer(srv, "api"))
	mgr.Register("housekeeping", func(context.Context) error { cancel(); return nil })
	mgr.Register("cleanup", func(context.Context) error { a.cleanup.Stop(); return nil })

	go a.housekeeping(ctx)
	a.cleanup.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Fields{
			"addr":            cfg.ListenAddr,
			"storage":         cfg.Storage,
			"tls":             tlsConfig != nil,
			"max_connections": cfg.MaxConnections,
			"version":         version,
		})
		err := serve(srv, cfg.MaxConnections)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", logging.Fields{"error": err})
			errCh <- err
			cancel()
		}
	}()

	mgr.WaitWithContext(ctx)
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
