// FIRM-LOCK verifier daemon.
// Serves the attestation API and websocket event stream over a fleet
// of serial-attached or simulated devices.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TeamMavericKX/firmlockv01/internal/api"
	"github.com/TeamMavericKX/firmlockv01/internal/config"
	"github.com/TeamMavericKX/firmlockv01/internal/verifier"
	"github.com/TeamMavericKX/firmlockv01/internal/version"
	"github.com/TeamMavericKX/firmlockv01/pkg/audit"
	"github.com/TeamMavericKX/firmlockv01/pkg/bus"
	"github.com/TeamMavericKX/firmlockv01/pkg/device"
	"github.com/TeamMavericKX/firmlockv01/pkg/lifecycle"
	"github.com/TeamMavericKX/firmlockv01/pkg/store"
	"github.com/TeamMavericKX/firmlockv01/pkg/transport"
)

var (
	configPath = flag.String("config", "", "YAML config file path")
	listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	serialPort = flag.String("port", "", "Serial device port (overrides config, disables simulation)")
	simulate   = flag.Bool("simulate", false, "Force the simulated device")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *serialPort != "" {
		cfg.SerialPort = *serialPort
		cfg.Simulate = false
	}
	if *simulate {
		cfg.Simulate = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("firmlock verifier starting", "version", version.String())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	auditEmitter := buildAudit(cfg, logger)
	broker := bus.NewBroker()
	svc := verifier.New(st, broker,
		verifier.WithLogger(logger),
		verifier.WithAudit(auditEmitter),
		verifier.WithPolicy(lifecycle.Policy{
			FailureThreshold: cfg.QuarantineThreshold,
			FailureWindow:    cfg.QuarantineWindow.Std(),
		}),
	)
	svc.Engine().FreshnessWindow = cfg.FreshnessWindow.Std()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev := buildDevice(cfg)
	if _, err := svc.RegisterDevice(ctx, dev); err != nil {
		logger.Error("failed to register device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	svc.StartNonceSweeper(ctx, cfg.NonceSweepInterval.Std())

	mux := http.NewServeMux()
	api.NewServer(svc, broker, logger).RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: loggingMiddleware(logger, mux),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("http server listening", "addr", cfg.ListenAddr, "simulate", cfg.Simulate)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
	logger.Info("verifier stopped")
}

// buildDevice picks the device backend from config: the in-memory
// simulator, or a serial link to real hardware.
func buildDevice(cfg *config.Config) device.Device {
	if cfg.Simulate {
		return device.NewSimulator()
	}
	tr := transport.New(transport.Config{
		Port:     cfg.SerialPort,
		BaudRate: cfg.BaudRate,
	})
	return device.NewClient(tr)
}

// buildAudit composes the audit backends: slog always, syslog when a
// socket is configured. Syslog failure degrades to slog-only.
func buildAudit(cfg *config.Config, logger *slog.Logger) audit.EventEmitter {
	slogBackend := audit.NewSlogEmitter(logger)
	if cfg.SyslogSocket == "" {
		return slogBackend
	}
	sys, err := audit.NewSyslogEmitter(audit.SyslogConfig{SocketPath: cfg.SyslogSocket})
	if err != nil {
		logger.Warn("syslog audit unavailable", "socket", cfg.SyslogSocket, "error", err)
		return slogBackend
	}
	return audit.NewMultiEmitter(logger, slogBackend, sys)
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusResponseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(sw, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.statusCode,
			"latency_ms", time.Since(start).Milliseconds())
	})
}
