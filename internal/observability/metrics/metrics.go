package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "engineroom_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	alarmsRaised   *prometheus.CounterVec
	ringOverwrites prometheus.Counter

	monitorDrains *prometheus.CounterVec

	journalAppends   *prometheus.CounterVec
	journalMalformed prometheus.Counter

	queryRequests *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	rampAdjustments prometheus.Counter

	registerOps    *prometheus.CounterVec
	registerErrors *prometheus.CounterVec

	notifyTotal *prometheus.CounterVec

	commandRequests prometheus.Counter
)

// Init registers observability metrics and journal-backed gauges.
func Init(probe JournalProbe, logger zerolog.Logger) {
	registerOnce.Do(func() {
		alarmsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_raised_total",
				Help: "Total alarms raised by type",
			},
			[]string{"type"},
		)
		ringOverwrites = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ring_overwrites_total",
				Help: "Total ring buffer slot overwrites",
			},
		)

		monitorDrains = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "monitor_drains_total",
				Help: "Total monitor drain cycles by result",
			},
			[]string{"result"},
		)

		journalAppends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "journal_appends_total",
				Help: "Total journal appends by result",
			},
			[]string{"result"},
		)
		journalMalformed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "journal_malformed_lines_total",
				Help: "Total malformed journal lines skipped on read",
			},
		)

		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total alarm query requests by operation and result",
			},
			[]string{"op", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Alarm query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total alarm exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Alarm export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		rampAdjustments = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ramp_adjustments_total",
				Help: "Total VFD frequency ramp adjustments",
			},
		)

		registerOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "register_ops_total",
				Help: "Total register block operations by kind",
			},
			[]string{"op"},
		)
		registerErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "register_errors_total",
				Help: "Total register block I/O errors by kind",
			},
			[]string{"op"},
		)

		notifyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_total",
				Help: "Total alarm notifications by channel and result",
			},
			[]string{"channel", "result"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total issued equipment commands",
			},
		)

		prometheus.MustRegister(
			alarmsRaised,
			ringOverwrites,
			monitorDrains,
			journalAppends,
			journalMalformed,
			queryRequests,
			queryLatency,
			exportTotal,
			exportLatency,
			rampAdjustments,
			registerOps,
			registerErrors,
			notifyTotal,
			commandRequests,
		)

		if probe != nil {
			registerJournalMetrics(probe, logger)
		}
	})
}

// IncAlarmRaised increments raised alarm counter by type.
func IncAlarmRaised(alarmType string) {
	if alarmType == "" {
		alarmType = "unknown"
	}
	if alarmsRaised != nil {
		alarmsRaised.WithLabelValues(alarmType).Inc()
	}
}

// IncRingOverwrite increments ring overwrite counter.
func IncRingOverwrite() {
	if ringOverwrites != nil {
		ringOverwrites.Inc()
	}
}

// IncMonitorDrain increments drain cycle counter by result.
func IncMonitorDrain(result string) {
	if result == "" {
		result = resultSuccess
	}
	if monitorDrains != nil {
		monitorDrains.WithLabelValues(result).Inc()
	}
}

// IncJournalAppend increments journal append counter by result.
func IncJournalAppend(result string) {
	if result == "" {
		result = resultSuccess
	}
	if journalAppends != nil {
		journalAppends.WithLabelValues(result).Inc()
	}
}

// AddJournalMalformed increments the skipped-line counter by count.
func AddJournalMalformed(count int) {
	if count <= 0 {
		return
	}
	if journalMalformed != nil {
		journalMalformed.Add(float64(count))
	}
}

// ObserveQuery records query latency and result.
func ObserveQuery(op, result string, duration time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(op, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(op, result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncRampAdjustment increments the ramp adjustment counter.
func IncRampAdjustment() {
	if rampAdjustments != nil {
		rampAdjustments.Inc()
	}
}

// IncRegisterOp increments register operation counter by kind.
func IncRegisterOp(op string) {
	if op == "" {
		op = "unknown"
	}
	if registerOps != nil {
		registerOps.WithLabelValues(op).Inc()
	}
}

// IncRegisterError increments register I/O error counter by kind.
func IncRegisterError(op string) {
	if op == "" {
		op = "unknown"
	}
	if registerErrors != nil {
		registerErrors.WithLabelValues(op).Inc()
	}
}

// IncNotify increments notification counter by channel and result.
func IncNotify(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifyTotal != nil {
		notifyTotal.WithLabelValues(channel, result).Inc()
	}
}

// IncCommandIssued increments issued command counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
