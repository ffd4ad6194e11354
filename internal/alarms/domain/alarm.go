package alarms

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
)

const (
	TypeHigh = "HIGH"
	TypeLow  = "LOW"
)

// Record is one persisted alarm occurrence. Value and Threshold are in
// engineering units; the natural key is (SensorID, RaisedAt).
type Record struct {
	ID        string    `json:"id"`
	SensorID  string    `json:"sensor_id"`
	Type      string    `json:"alarm_type"`
	RaisedAt  time.Time `json:"timestamp"`
	Value     float64   `json:"sensor_value"`
	Threshold float64   `json:"threshold"`
	Status    string    `json:"status"`
	AckedAt   time.Time `json:"ack_timestamp,omitempty"`
}

// Key returns the natural key of the record.
func (r Record) Key() string {
	return r.SensorID + "|" + strconv.FormatInt(r.RaisedAt.Unix(), 10)
}

// Acknowledged reports whether the record has been acknowledged.
func (r Record) Acknowledged() bool { return r.Status == StatusAcknowledged }

// BuildRecordID derives the stable record identifier from the natural key.
func BuildRecordID(sensorID string, raisedAt time.Time) string {
	sum := sha1.Sum([]byte(sensorID + "|" + strconv.FormatInt(raisedAt.Unix(), 10)))
	return "alarm-" + hex.EncodeToString(sum[:8])
}
