// Package csvlog persists alarm records as one CSV partition per UTC day.
// The monitor is the sole writer; appends are whole-line writes so readers
// always see a consistent prefix, and acknowledgements rewrite the affected
// partition through a temp file and rename.
package csvlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/observability/metrics"
)

const (
	partitionPrefix = "alarms-"
	partitionSuffix = ".csv"
	dayFormat       = "2006-01-02"
)

var header = []string{"timestamp", "sensor_id", "alarm_type", "sensor_value", "threshold", "status", "ack_timestamp"}

// Journal is the date-partitioned durable alarm log.
type Journal struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewJournal creates the journal directory if needed and returns a journal.
func NewJournal(dir string, logger zerolog.Logger) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("csvlog: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvlog: create directory: %w", err)
	}
	return &Journal{dir: dir, logger: logger}, nil
}

// Append writes one record to its day partition, creating the partition
// with a header row on first use.
func (j *Journal) Append(rec alarms.Record) error {
	if j == nil {
		return errors.New("csvlog: journal is not initialised")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.partitionPath(rec.RaisedAt.UTC())
	fresh := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if fresh {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(encodeRecord(rec)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		metrics.IncJournalAppend(metrics.ResultError)
		return fmt.Errorf("csvlog: open partition: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		metrics.IncJournalAppend(metrics.ResultError)
		return fmt.Errorf("csvlog: append: %w", err)
	}
	metrics.IncJournalAppend(metrics.ResultSuccess)
	return nil
}

// ReadRange returns every record raised in [from, to], deduplicated by
// natural key (acknowledged copies win) and sorted oldest first. Malformed
// lines are skipped and counted.
func (j *Journal) ReadRange(from, to time.Time) ([]alarms.Record, error) {
	if j == nil {
		return nil, errors.New("csvlog: journal is not initialised")
	}
	days, err := j.partitionDays()
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]alarms.Record)
	for _, day := range days {
		if day.Before(from.UTC().Truncate(24*time.Hour)) || day.After(to.UTC()) {
			continue
		}
		records, err := j.readPartition(j.partitionPath(day))
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.RaisedAt.Before(from) || rec.RaisedAt.After(to) {
				continue
			}
			existing, seen := byKey[rec.Key()]
			if seen && existing.Acknowledged() && !rec.Acknowledged() {
				continue
			}
			byKey[rec.Key()] = rec
		}
	}

	out := make([]alarms.Record, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RaisedAt.Before(out[b].RaisedAt) })
	return out, nil
}

// Acknowledge flips exactly one active record to acknowledged, rewriting
// its partition in place. Returns the updated record, ErrNotFound when no
// record carries the id, and the unchanged record when already acknowledged.
func (j *Journal) Acknowledge(id string, at time.Time) (alarms.Record, error) {
	if j == nil {
		return alarms.Record{}, errors.New("csvlog: journal is not initialised")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	days, err := j.partitionDays()
	if err != nil {
		return alarms.Record{}, err
	}
	// newest partitions first: acks almost always target a fresh alarm
	for i := len(days) - 1; i >= 0; i-- {
		path := j.partitionPath(days[i])
		rec, found, err := j.acknowledgeIn(path, id, at.UTC())
		if err != nil {
			return alarms.Record{}, err
		}
		if found {
			return rec, nil
		}
	}
	return alarms.Record{}, alarms.ErrNotFound
}

// acknowledgeIn rewrites one partition if it holds the record. The rewrite
// goes through a temp file and rename so readers never see a torn file.
func (j *Journal) acknowledgeIn(path, id string, at time.Time) (alarms.Record, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return alarms.Record{}, false, nil
		}
		return alarms.Record{}, false, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	var updated alarms.Record
	found := false
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.AddJournalMalformed(1)
			continue
		}
		if !found {
			rec, ok := decodeRecord(row)
			if ok && rec.ID == id {
				found = true
				if rec.Acknowledged() {
					updated = rec
				} else {
					rec.Status = alarms.StatusAcknowledged
					rec.AckedAt = at
					updated = rec
					row = encodeRecord(rec)
				}
			}
		}
		rows = append(rows, row)
	}
	if !found {
		return alarms.Record{}, false, nil
	}

	tmp, err := os.CreateTemp(j.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return alarms.Record{}, false, err
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return alarms.Record{}, false, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return alarms.Record{}, false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return alarms.Record{}, false, err
	}
	return updated, true, nil
}

// UnacknowledgedCount counts active records across all partitions.
func (j *Journal) UnacknowledgedCount() (int, error) {
	if j == nil {
		return 0, errors.New("csvlog: journal is not initialised")
	}
	records, err := j.ReadRange(time.Unix(0, 0), time.Now().UTC().Add(24*time.Hour))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range records {
		if !rec.Acknowledged() {
			count++
		}
	}
	return count, nil
}

// PartitionCount counts day partitions on disk.
func (j *Journal) PartitionCount() (int, error) {
	if j == nil {
		return 0, errors.New("csvlog: journal is not initialised")
	}
	days, err := j.partitionDays()
	if err != nil {
		return 0, err
	}
	return len(days), nil
}

func (j *Journal) partitionPath(day time.Time) string {
	return filepath.Join(j.dir, partitionPrefix+day.UTC().Format(dayFormat)+partitionSuffix)
}

// partitionDays lists partition dates on disk, oldest first.
func (j *Journal) partitionDays() ([]time.Time, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var days []time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, partitionPrefix) || !strings.HasSuffix(name, partitionSuffix) {
			continue
		}
		day, err := time.ParseInLocation(dayFormat, strings.TrimSuffix(strings.TrimPrefix(name, partitionPrefix), partitionSuffix), time.UTC)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })
	return days, nil
}

// readPartition parses one partition, skipping the header and any
// malformed or torn lines.
func (j *Journal) readPartition(path string) ([]alarms.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var records []alarms.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.AddJournalMalformed(1)
			j.logger.Warn().Err(err).Str("partition", filepath.Base(path)).Msg("skipping malformed line")
			continue
		}
		rec, ok := decodeRecord(row)
		if !ok {
			if row[0] != header[0] { // not the header row
				metrics.AddJournalMalformed(1)
				j.logger.Warn().Str("partition", filepath.Base(path)).Msg("skipping malformed line")
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRecord(rec alarms.Record) []string {
	ack := ""
	if !rec.AckedAt.IsZero() {
		ack = rec.AckedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		rec.RaisedAt.UTC().Format(time.RFC3339),
		rec.SensorID,
		rec.Type,
		strconv.FormatFloat(rec.Value, 'f', -1, 64),
		strconv.FormatFloat(rec.Threshold, 'f', -1, 64),
		rec.Status,
		ack,
	}
}

func decodeRecord(row []string) (alarms.Record, bool) {
	if len(row) != len(header) {
		return alarms.Record{}, false
	}
	raisedAt, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return alarms.Record{}, false
	}
	value, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return alarms.Record{}, false
	}
	threshold, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return alarms.Record{}, false
	}
	if row[5] != alarms.StatusActive && row[5] != alarms.StatusAcknowledged {
		return alarms.Record{}, false
	}
	rec := alarms.Record{
		SensorID:  row[1],
		Type:      row[2],
		RaisedAt:  raisedAt.UTC(),
		Value:     value,
		Threshold: threshold,
		Status:    row[5],
	}
	if row[6] != "" {
		ackedAt, err := time.Parse(time.RFC3339, row[6])
		if err != nil {
			return alarms.Record{}, false
		}
		rec.AckedAt = ackedAt.UTC()
	}
	rec.ID = alarms.BuildRecordID(rec.SensorID, rec.RaisedAt)
	return rec, true
}
