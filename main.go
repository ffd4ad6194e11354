package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alarmapp "engineroom-ess/internal/alarms/application"
	"engineroom-ess/internal/alarms/infrastructure/csvlog"
	alarmhttp "engineroom-ess/internal/alarms/interfaces/http"
	alarmnotify "engineroom-ess/internal/alarms/notify"
	"engineroom-ess/internal/audit"
	"engineroom-ess/internal/auth"
	commandsapp "engineroom-ess/internal/commands/application"
	commandshttp "engineroom-ess/internal/commands/interfaces/http"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/controller"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
	"engineroom-ess/internal/vfd"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config failed")
	}

	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	bank, err := registers.NewStore(layout.Regions())
	if err != nil {
		logger.Fatal().Err(err).Msg("register store init failed")
	}
	if err := controller.SeedThresholds(bank, layout, cfg.Sensors); err != nil {
		logger.Fatal().Err(err).Msg("seed thresholds failed")
	}

	journal, err := csvlog.NewJournal(filepath.Join(cfg.DataDir, "alarms"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm journal init failed")
	}
	metrics.Init(journal, logger)

	auditLogger, err := audit.NewFileLogger(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		logger.Fatal().Err(err).Msg("audit logger init failed")
	}

	broker := alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.AlarmNotifier{broker}
	if cfg.WebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm webhook init failed")
		}
		tpl, err := alarmnotify.NewTemplate("")
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm template init failed")
		}
		webhookNotifier, err := alarmnotify.NewNotifier(channel, tpl,
			alarmnotify.WithCooldown(time.Minute),
			alarmnotify.WithDedupeWindow(10*time.Minute),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm notifier init failed")
		}
		notifiers = append(notifiers, webhookNotifier)
	}
	notifier := alarmnotify.NewMultiNotifier(notifiers...)

	monitor, err := alarmapp.NewMonitor(bank, layout, cfg.Sensors, journal, logger, alarmapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm monitor init failed")
	}
	alarmService, err := alarmapp.NewService(journal, logger, alarmapp.WithServiceNotifier(notifier))
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm service init failed")
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmService, auditLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm handler init failed")
	}

	commandService, err := commandsapp.NewService(bank, layout, cfg.Equipment, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("command service init failed")
	}
	commandHandler, err := commandshttp.NewHandler(commandService, auditLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("command handler init failed")
	}

	vfdService, err := vfd.NewService(bank, layout, cfg.Equipment, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("vfd service init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runners := []*controller.Runner{
		mustRunner(logger, "alarm-monitor", cfg.TickInterval, func() { monitor.Tick(ctx) }),
	}
	if cfg.Embedded {
		runners = append(runners, buildControllerRunners(bank, layout, cfg, logger)...)
	}
	for _, r := range runners {
		wg.Add(1)
		go func(r *controller.Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}

	policy := auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics"},
		[]string{"/api/v1/alarms/stream"},
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/vfd", vfd.NewHandler(vfdService))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Bool("embedded", cfg.Embedded).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	wg.Wait()
	logger.Info().Msg("shutdown complete")
}

// buildControllerRunners wires the embedded controller loops: simulated
// sensor waveforms, alarm evaluation, the plant command consumer, the
// frequency ramp and the target publisher.
func buildControllerRunners(bank registers.Bank, layout registers.Layout, cfg config.Config, logger zerolog.Logger) []*controller.Runner {
	waveform, err := controller.NewWaveform(bank, layout, cfg.Sensors, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("waveform init failed")
	}
	ring, err := controller.NewRing(bank, layout)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm ring init failed")
	}
	evaluator, err := controller.NewEvaluator(bank, layout, cfg.Sensors, ring, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator init failed")
	}
	plant, err := controller.NewPlant(bank, layout, cfg.Equipment, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("plant init failed")
	}
	ramp, err := controller.NewRamp(bank, layout, cfg.Equipment, cfg.Ramp, cfg.TickInterval, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ramp init failed")
	}
	targets, err := controller.NewTargetPublisher(bank, layout, cfg.Equipment, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("target publisher init failed")
	}

	// bring the simulated plant up so the ramp has eligible drives
	for i := range cfg.Equipment {
		if err := plant.Start(i); err != nil {
			logger.Fatal().Err(err).Msg("plant start failed")
		}
	}

	return []*controller.Runner{
		mustRunner(logger, "waveform", cfg.TickInterval, waveform.Tick),
		mustRunner(logger, "evaluator", cfg.TickInterval, evaluator.Tick),
		mustRunner(logger, "plant", cfg.TickInterval, plant.Tick),
		mustRunner(logger, "ramp", cfg.TickInterval, ramp.Tick),
		mustRunner(logger, "targets", cfg.TickInterval, targets.Tick),
	}
}

func mustRunner(logger zerolog.Logger, name string, interval time.Duration, tick func()) *controller.Runner {
	r, err := controller.NewRunner(name, interval, tick, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("runner", name).Msg("runner init failed")
	}
	return r
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
