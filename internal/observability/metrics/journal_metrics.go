package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// JournalProbe exposes the durable-log counts surfaced as gauges.
type JournalProbe interface {
	UnacknowledgedCount() (int, error)
	PartitionCount() (int, error)
}

func registerJournalMetrics(probe JournalProbe, logger zerolog.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alarms_unacknowledged",
			Help: "Unacknowledged alarm records in the journal",
		},
		func() float64 {
			return probeCount(probe.UnacknowledgedCount, logger)
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "journal_partitions",
			Help: "Daily journal partitions on disk",
		},
		func() float64 {
			return probeCount(probe.PartitionCount, logger)
		},
	))
}

func probeCount(fn func() (int, error), logger zerolog.Logger) float64 {
	count, err := fn()
	if err != nil {
		logger.Warn().Err(err).Msg("metrics probe failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
