// plcsim runs the controller loops against a private register bank and
// exposes the raw cells over HTTP, for bench-testing display clients
// without the edge server.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/controller"
	"engineroom-ess/internal/registers"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "plcsim").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config failed")
	}
	addr := getenvDefault("PLCSIM_ADDR", ":18090")

	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	bank, err := registers.NewStore(layout.Regions())
	if err != nil {
		logger.Fatal().Err(err).Msg("register store init failed")
	}
	if err := controller.SeedThresholds(bank, layout, cfg.Sensors); err != nil {
		logger.Fatal().Err(err).Msg("seed thresholds failed")
	}

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
	for i := range cfg.Equipment {
		if err := plant.Start(i); err != nil {
			logger.Fatal().Err(err).Msg("plant start failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticks := []struct {
		name string
		fn   func()
	}{
		{"waveform", waveform.Tick},
		{"evaluator", evaluator.Tick},
		{"plant", plant.Tick},
		{"ramp", ramp.Tick},
		{"targets", targets.Tick},
	}
	var wg sync.WaitGroup
	for _, t := range ticks {
		runner, err := controller.NewRunner(t.name, cfg.TickInterval, t.fn, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("runner", t.name).Msg("runner init failed")
		}
		wg.Add(1)
		go func(r *controller.Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(runner)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/registers", func(w http.ResponseWriter, r *http.Request) {
		handleRegisters(w, r, bank)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	logger.Info().Str("addr", addr).Msg("plcsim listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	wg.Wait()
}

// handleRegisters serves GET /registers?addr=110&count=8 as raw cells.
func handleRegisters(w http.ResponseWriter, r *http.Request, bank registers.Bank) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	addr, err := strconv.Atoi(r.URL.Query().Get("addr"))
	if err != nil || addr < 0 || addr > 0xffff {
		http.Error(w, "addr must be a 16-bit register address", http.StatusBadRequest)
		return
	}
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 || count > 125 {
		http.Error(w, "count must be between 1 and 125", http.StatusBadRequest)
		return
	}
	words, err := bank.ReadBlock(uint16(addr), count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"addr":  addr,
		"count": count,
		"cells": words,
	})
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
