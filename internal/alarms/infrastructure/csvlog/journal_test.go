package csvlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	alarms "engineroom-ess/internal/alarms/domain"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func record(sensorID string, raisedAt time.Time, value float64) alarms.Record {
	return alarms.Record{
		ID:        alarms.BuildRecordID(sensorID, raisedAt),
		SensorID:  sensorID,
		Type:      alarms.TypeHigh,
		RaisedAt:  raisedAt.UTC(),
		Value:     value,
		Threshold: 40,
		Status:    alarms.StatusActive,
	}
}

func TestJournalAppendAndReadRoundTrip(t *testing.T) {
	is := is.New(t)
	j := newTestJournal(t)

	raisedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := record("TX6", raisedAt, 45.3)
	is.NoErr(j.Append(rec))

	got, err := j.ReadRange(raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(got), 1)
	is.Equal(got[0], rec)

	count, err := j.PartitionCount()
	is.NoErr(err)
	is.Equal(count, 1)
}

func TestJournalPartitionsByUTCDay(t *testing.T) {
	is := is.New(t)
	j := newTestJournal(t)

	// 23:59 and 00:01 land in different partitions
	first := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	second := time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)
	is.NoErr(j.Append(record("TX1", first, 46)))
	is.NoErr(j.Append(record("TX1", second, 47)))

	count, err := j.PartitionCount()
	is.NoErr(err)
	is.Equal(count, 2)

	got, err := j.ReadRange(first, second)
	is.NoErr(err)
	is.Equal(len(got), 2)
	is.True(got[0].RaisedAt.Before(got[1].RaisedAt))
}

func TestJournalDeduplicatesByNaturalKey(t *testing.T) {
	is := is.New(t)
	j := newTestJournal(t)

	raisedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := record("TX6", raisedAt, 45.3)
	// a redundant drain appended the same record twice
	is.NoErr(j.Append(rec))
	is.NoErr(j.Append(rec))

	got, err := j.ReadRange(raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(got), 1)

	// the acknowledged copy wins over the duplicate active one
	acked, err := j.Acknowledge(rec.ID, raisedAt.Add(time.Minute))
	is.NoErr(err)
	is.Equal(acked.Status, alarms.StatusAcknowledged)

	got, err = j.ReadRange(raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(got), 1)
	is.Equal(got[0].Status, alarms.StatusAcknowledged)
}

func TestJournalAcknowledgeRewritesOneRecord(t *testing.T) {
	is := is.New(t)
	j := newTestJournal(t)

	raisedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	first := record("TX6", raisedAt, 45.3)
	second := record("PX1", raisedAt.Add(time.Minute), 0.5)
	is.NoErr(j.Append(first))
	is.NoErr(j.Append(second))

	ackAt := raisedAt.Add(90 * time.Second)
	acked, err := j.Acknowledge(first.ID, ackAt)
	is.NoErr(err)
	is.Equal(acked.AckedAt, ackAt.UTC())

	got, err := j.ReadRange(raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(got), 2)
	for _, rec := range got {
		if rec.ID == first.ID {
			is.Equal(rec.Status, alarms.StatusAcknowledged)
		} else {
			is.Equal(rec.Status, alarms.StatusActive)
		}
	}

	// acknowledging again is a no-op
	again, err := j.Acknowledge(first.ID, ackAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(again.AckedAt, ackAt.UTC())

	_, err = j.Acknowledge("alarm-ffffffffffffffff", ackAt)
	is.True(errors.Is(err, alarms.ErrNotFound))
}

func TestJournalSkipsMalformedLines(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	j, err := NewJournal(dir, zerolog.Nop())
	is.NoErr(err)

	raisedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	is.NoErr(j.Append(record("TX6", raisedAt, 45.3)))

	// a torn append and assorted garbage in the middle of the partition
	path := filepath.Join(dir, "alarms-2026-03-14.csv")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	is.NoErr(err)
	_, err = f.WriteString("not,a,record\n2026-03-14T09:01:00Z,TX1,HIGH,46.0\n")
	is.NoErr(err)
	is.NoErr(f.Close())
	is.NoErr(j.Append(record("TX1", raisedAt.Add(2*time.Minute), 46.5)))

	got, err := j.ReadRange(raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(got), 2) // the intact records survive

	count, err := j.UnacknowledgedCount()
	is.NoErr(err)
	is.Equal(count, 2)
}
