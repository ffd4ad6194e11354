package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SensorLimit selects which thresholds apply to a sensor.
type SensorLimit string

const (
	// LimitUpper raises HIGH only (temperature points).
	LimitUpper SensorLimit = "upper"
	// LimitDual raises HIGH above the upper and LOW below the lower
	// threshold (pressure and load points).
	LimitDual SensorLimit = "dual"
)

// Sensor describes one monitored measurement point. Factor converts the raw
// register value to engineering units (engineering = raw / Factor).
type Sensor struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Factor      float64     `yaml:"factor"`
	Limit       SensorLimit `yaml:"limit"`
	DefaultHigh float64     `yaml:"default_high"`
	DefaultLow  float64     `yaml:"default_low"`
}

// Equipment describes one VFD-driven actuator.
type Equipment struct {
	Name    string  `yaml:"name"`
	Group   string  `yaml:"group"`
	RatedKW float64 `yaml:"rated_kw"`
}

// RegisterMap holds the deployment register layout. Widths are fixed by the
// protocol (16-bit cells); addresses are deployment-specific.
type RegisterMap struct {
	SensorsStart     uint16 `yaml:"sensors_start"`
	ThresholdsStart  uint16 `yaml:"thresholds_start"`
	StatusStart      uint16 `yaml:"status_start"`
	RingStart        uint16 `yaml:"ring_start"`
	FeedbackStart    uint16 `yaml:"feedback_start"`
	EquipStatusStart uint16 `yaml:"equip_status_start"`
	CommandsStart    uint16 `yaml:"commands_start"`
	TargetsStart     uint16 `yaml:"targets_start"`
}

// Ramp holds the VFD ramp controller parameters.
type Ramp struct {
	StepHz  float64 `yaml:"step_hz"`
	MaxHz   float64 `yaml:"max_hz"`
	NoiseHz float64 `yaml:"noise_hz"`
}

// Config is the full service configuration for both the edge server and the
// controller simulator.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	DataDir      string        `yaml:"data_dir"`
	TickInterval time.Duration `yaml:"tick_interval"`
	JWTSecret    string        `yaml:"jwt_secret"`
	WebhookURL   string        `yaml:"webhook_url"`
	Embedded     bool          `yaml:"embedded"`

	Registers RegisterMap `yaml:"registers"`
	Ramp      Ramp        `yaml:"ramp"`
	Sensors   []Sensor    `yaml:"sensors"`
	Equipment []Equipment `yaml:"equipment"`
}

// Default returns the configuration matching the reference vessel
// deployment: seven temperature points, three dual-limit points, ten
// VFD-driven pumps and fans.
func Default() Config {
	return Config{
		ListenAddr:   "0.0.0.0:8080",
		DataDir:      filepath.FromSlash("var/data"),
		TickInterval: time.Second,
		Embedded:     true,
		Registers: RegisterMap{
			SensorsStart:     10,
			ThresholdsStart:  20,
			StatusStart:      100,
			RingStart:        110,
			FeedbackStart:    200,
			EquipStatusStart: 4000,
			CommandsStart:    4100,
			TargetsStart:     5000,
		},
		Ramp: Ramp{StepHz: 0.5, MaxHz: 60.0, NoiseHz: 0.3},
		Sensors: []Sensor{
			{ID: "TX1", Name: "CSW PP Disc Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 45.0},
			{ID: "TX2", Name: "No.1 CLR SW Out Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 48.0},
			{ID: "TX3", Name: "No.2 CLR SW Out Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 48.0},
			{ID: "TX4", Name: "CLR FW In Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 42.0},
			{ID: "TX5", Name: "CLR FW Out Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 38.0},
			{ID: "TX6", Name: "E/R Inside Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 40.0},
			{ID: "TX7", Name: "E/R Outside Temp", Factor: 10, Limit: LimitUpper, DefaultHigh: 45.0},
			{ID: "PX1", Name: "CSW PP Disc Press", Factor: 4608, Limit: LimitDual, DefaultHigh: 4.0, DefaultLow: 1.0},
			{ID: "PX2", Name: "E/R Diff Press", Factor: 10, Limit: LimitDual, DefaultHigh: 300.0, DefaultLow: 50.0},
			{ID: "PU1", Name: "M/E Load", Factor: 276.48, Limit: LimitDual, DefaultHigh: 95.0, DefaultLow: 10.0},
		},
		Equipment: []Equipment{
			{Name: "SWP1", Group: "SWP", RatedKW: 132.0},
			{Name: "SWP2", Group: "SWP", RatedKW: 132.0},
			{Name: "SWP3", Group: "SWP", RatedKW: 132.0},
			{Name: "FWP1", Group: "FWP", RatedKW: 75.0},
			{Name: "FWP2", Group: "FWP", RatedKW: 75.0},
			{Name: "FWP3", Group: "FWP", RatedKW: 75.0},
			{Name: "FAN1", Group: "FAN", RatedKW: 54.3},
			{Name: "FAN2", Group: "FAN", RatedKW: 54.3},
			{Name: "FAN3", Group: "FAN", RatedKW: 54.3},
			{Name: "FAN4", Group: "FAN", RatedKW: 54.3},
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file named
// by ENGINEROOM_CONFIG, and environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ENGINEROOM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.ListenAddr = getenvDefault("ENGINEROOM_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = getenvDefault("ENGINEROOM_DATA_DIR", cfg.DataDir)
	cfg.JWTSecret = getenvDefault("ENGINEROOM_JWT_SECRET", cfg.JWTSecret)
	cfg.WebhookURL = getenvDefault("ENGINEROOM_WEBHOOK_URL", cfg.WebhookURL)
	if v := os.Getenv("ENGINEROOM_TICK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("config: invalid ENGINEROOM_TICK_MS %q", v)
		}
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data dir required")
	}
	if c.TickInterval <= 0 {
		return errors.New("config: tick interval must be positive")
	}
	if c.Ramp.StepHz <= 0 || c.Ramp.MaxHz <= 0 {
		return errors.New("config: ramp step and max must be positive")
	}
	if c.Ramp.NoiseHz < 0 {
		return errors.New("config: ramp noise must not be negative")
	}
	if len(c.Sensors) == 0 {
		return errors.New("config: at least one sensor required")
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if s.ID == "" {
			return errors.New("config: sensor id required")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config: duplicate sensor id %s", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Factor <= 0 {
			return fmt.Errorf("config: sensor %s factor must be positive", s.ID)
		}
		if s.Limit != LimitUpper && s.Limit != LimitDual {
			return fmt.Errorf("config: sensor %s has unknown limit kind %q", s.ID, s.Limit)
		}
	}
	for _, e := range c.Equipment {
		if e.Name == "" {
			return errors.New("config: equipment name required")
		}
		if e.RatedKW <= 0 {
			return fmt.Errorf("config: equipment %s rated power must be positive", e.Name)
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
