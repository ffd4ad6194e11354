package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/alarms/infrastructure/csvlog"
	"engineroom-ess/internal/observability/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultLatest    = 10
	maxLatest        = 100
	defaultStatsDays = 7
	maxStatsDays     = 90
)

// ListFilter narrows a history query. Zero fields match everything; an
// unknown sensor simply matches nothing.
type ListFilter struct {
	From     time.Time
	To       time.Time
	SensorID string
	Type     string
	Status   string
	Limit    int
}

// Stats aggregates journal records over a trailing window.
type Stats struct {
	Days           int            `json:"days"`
	Total          int            `json:"total"`
	Acknowledged   int            `json:"acknowledged"`
	Unacknowledged int            `json:"unacknowledged"`
	BySensor       map[string]int `json:"by_sensor"`
	ByType         map[string]int `json:"by_type"`
	ByDate         map[string]int `json:"by_date"`
}

// Service answers alarm history queries over the journal and performs
// acknowledgements. All reads are safe against the monitor appending.
type Service struct {
	journal  *csvlog.Journal
	notifier AlarmNotifier
	clock    Clock
	logger   zerolog.Logger
}

// ServiceOption customizes the query service.
type ServiceOption func(*Service)

// WithServiceNotifier assigns a notifier.
func WithServiceNotifier(notifier AlarmNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a query service.
func NewService(journal *csvlog.Journal, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if journal == nil {
		return nil, errors.New("alarms: journal is required")
	}
	service := &Service{
		journal: journal,
		clock:   systemClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// List returns matching records, most recent first. The limit defaults to
// 100 and is clamped to 1000.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]alarms.Record, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	started := s.clock.Now()

	from, to := filter.From, filter.To
	if to.IsZero() {
		to = s.clock.Now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	limit := clamp(filter.Limit, defaultListLimit, maxListLimit)

	records, err := s.journal.ReadRange(from, to)
	if err != nil {
		metrics.ObserveQuery("list", metrics.ResultError, s.clock.Now().Sub(started))
		return nil, err
	}

	out := make([]alarms.Record, 0, len(records))
	for _, rec := range records {
		if filter.SensorID != "" && rec.SensorID != filter.SensorID {
			continue
		}
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RaisedAt.After(out[b].RaisedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	metrics.ObserveQuery("list", metrics.ResultSuccess, s.clock.Now().Sub(started))
	return out, nil
}

// Latest returns the newest records across all partitions. The count
// defaults to 10 and is clamped to 100.
func (s *Service) Latest(ctx context.Context, count int) ([]alarms.Record, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	started := s.clock.Now()
	count = clamp(count, defaultLatest, maxLatest)

	records, err := s.journal.ReadRange(time.Unix(0, 0), s.clock.Now().Add(time.Hour))
	if err != nil {
		metrics.ObserveQuery("latest", metrics.ResultError, s.clock.Now().Sub(started))
		return nil, err
	}
	sort.Slice(records, func(a, b int) bool { return records[a].RaisedAt.After(records[b].RaisedAt) })
	if len(records) > count {
		records = records[:count]
	}
	metrics.ObserveQuery("latest", metrics.ResultSuccess, s.clock.Now().Sub(started))
	return records, nil
}

// Statistics aggregates the trailing window. Days defaults to 7 and is
// clamped to 90.
func (s *Service) Statistics(ctx context.Context, days int) (Stats, error) {
	if s == nil {
		return Stats{}, errors.New("alarms: nil service")
	}
	started := s.clock.Now()
	days = clamp(days, defaultStatsDays, maxStatsDays)

	now := s.clock.Now().UTC()
	from := now.AddDate(0, 0, -days)
	records, err := s.journal.ReadRange(from, now)
	if err != nil {
		metrics.ObserveQuery("stats", metrics.ResultError, s.clock.Now().Sub(started))
		return Stats{}, err
	}

	stats := Stats{
		Days:     days,
		BySensor: make(map[string]int),
		ByType:   make(map[string]int),
		ByDate:   make(map[string]int),
	}
	for _, rec := range records {
		stats.Total++
		if rec.Acknowledged() {
			stats.Acknowledged++
		} else {
			stats.Unacknowledged++
		}
		stats.BySensor[rec.SensorID]++
		stats.ByType[rec.Type]++
		stats.ByDate[rec.RaisedAt.UTC().Format("2006-01-02")]++
	}
	metrics.ObserveQuery("stats", metrics.ResultSuccess, s.clock.Now().Sub(started))
	return stats, nil
}

// Acknowledge flips exactly one record to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id string) (alarms.Record, error) {
	if s == nil {
		return alarms.Record{}, errors.New("alarms: nil service")
	}
	if id == "" {
		return alarms.Record{}, errors.New("alarms: alarm id required")
	}
	started := s.clock.Now()
	rec, err := s.journal.Acknowledge(id, s.clock.Now().UTC())
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, alarms.ErrNotFound) {
			result = "not_found"
		}
		metrics.ObserveQuery("ack", result, s.clock.Now().Sub(started))
		return alarms.Record{}, err
	}
	metrics.ObserveQuery("ack", metrics.ResultSuccess, s.clock.Now().Sub(started))
	if s.notifier != nil {
		s.notifier.Notify(ctx, AlarmEvent{Type: "acknowledged", Record: rec})
	}
	return rec, nil
}

func clamp(value, fallback, max int) int {
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}
