package vfd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/controller"
	"engineroom-ess/internal/registers"
)

func newFixture(t *testing.T) (*Service, *registers.Store, registers.Layout, config.Config) {
	t.Helper()
	cfg := config.Default()
	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	store, err := registers.NewStore(layout.Regions())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	service, err := NewService(store, layout, cfg.Equipment, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, store, layout, cfg
}

func startEquipment(t *testing.T, store *registers.Store, layout registers.Layout, cfg config.Config, index int) {
	t.Helper()
	plant, err := controller.NewPlant(store, layout, cfg.Equipment, zerolog.Nop())
	if err != nil {
		t.Fatalf("new plant: %v", err)
	}
	if err := plant.Start(index); err != nil {
		t.Fatalf("start equipment %d: %v", index, err)
	}
}

func TestSummaryDecodesDriveFeedback(t *testing.T) {
	is := is.New(t)
	service, store, layout, cfg := newFixture(t)

	// SWP2 running with a 48.4 Hz target and populated feedback block.
	startEquipment(t, store, layout, cfg, 1)
	is.NoErr(store.WriteBlock(layout.TargetAddr(1), []uint16{484}))
	energyLo, energyHi := registers.SplitU32(1234) // 123.4 kWh
	runLo, runHi := registers.SplitU32(7200)
	is.NoErr(store.WriteBlock(layout.FeedbackAddr(1), []uint16{
		484,      // 48.4 Hz measured
		676,      // 67.6 kW
		702,      // 70.2 kW average
		energyLo, energyHi,
		475, // 47.5 % saving
		runLo, runHi,
	}))

	summary, err := service.Summary()
	is.NoErr(err)
	is.Equal(len(summary.Actuators), 10)
	is.Equal(summary.RunningCount, 1)

	swp2 := summary.Actuators[1]
	is.Equal(swp2.Equipment, "SWP2")
	is.Equal(swp2.Group, "SWP")
	is.True(swp2.Running)
	is.True(swp2.Auto)
	is.Equal(swp2.TargetHz, 48.4)
	is.Equal(swp2.MeasuredHz, 48.4)
	is.Equal(swp2.PowerKW, 67.6)
	is.Equal(swp2.AvgPowerKW, 70.2)
	is.Equal(swp2.SavedKWh, 123.4)
	is.Equal(swp2.SavingsPct, 47.5)
	is.Equal(swp2.RuntimeSec, uint32(7200))
	is.Equal(summary.TotalSavedKWh, 123.4)

	// idle actuators report zeros, not errors
	fan := summary.Actuators[6]
	is.Equal(fan.Equipment, "FAN1")
	is.True(!fan.Running)
	is.Equal(fan.SavedKWh, 0.0)
}

type failingBank struct {
	*registers.Store
	failAddr uint16
}

func (b *failingBank) ReadBlock(addr uint16, count int) ([]uint16, error) {
	if addr == b.failAddr {
		return nil, errors.New("bus fault")
	}
	return b.Store.ReadBlock(addr, count)
}

func TestSummaryToleratesPerActuatorFaults(t *testing.T) {
	is := is.New(t)
	_, store, layout, cfg := newFixture(t)

	bank := &failingBank{Store: store, failAddr: layout.FeedbackAddr(3)}
	service, err := NewService(bank, layout, cfg.Equipment, zerolog.Nop())
	is.NoErr(err)

	summary, err := service.Summary()
	is.NoErr(err)
	is.Equal(len(summary.Actuators), 10)
	is.True(summary.Actuators[3].RegisterFail)
	is.True(!summary.Actuators[2].RegisterFail)
}

func TestHandlerServesSummary(t *testing.T) {
	is := is.New(t)
	service, _, _, _ := newFixture(t)
	handler := NewHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vfd", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)
	var summary Summary
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &summary))
	is.Equal(len(summary.Actuators), 10)
	is.Equal(summary.Actuators[0].Equipment, "SWP1")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/vfd", nil))
	is.Equal(rec.Code, http.StatusMethodNotAllowed)
}
