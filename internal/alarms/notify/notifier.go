package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	alarmapp "engineroom-ess/internal/alarms/application"
	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alarm events and delivers them through a channel,
// suppressing repeats with a cooldown and a dedupe window.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlarmNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event.Type, event.Record))
	if err != nil {
		return
	}
	if !n.shouldSend(event.Record.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotify("webhook", metrics.ResultError)
		return
	}
	metrics.IncNotify("webhook", metrics.ResultSuccess)
	n.markSent(event.Record.ID, event.Type, content)
}

func buildTemplateData(eventType string, rec alarms.Record) TemplateData {
	return TemplateData{
		Sensor:     rec.SensorID,
		SensorID:   rec.SensorID,
		Type:       rec.Type,
		Value:      formatFloat(rec.Value),
		Threshold:  formatFloat(rec.Threshold),
		RaisedAt:   rec.RaisedAt.UTC().Format(time.RFC3339),
		Status:     rec.Status,
		Suggestion: suggestionFor(rec.Type),
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case "raised":
		return "Raised"
	case "acknowledged":
		return "Acknowledged"
	default:
		return event
	}
}

func suggestionFor(alarmType string) string {
	switch alarmType {
	case alarms.TypeHigh:
		return "Check cooling capacity and confirm the reading on the local gauge."
	case alarms.TypeLow:
		return "Check pump suction and line-up, then confirm the reading locally."
	default:
		return "Inspect the sensor and confirm the alarm condition."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(alarmID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alarmID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alarmID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alarmID, eventType string) string {
	return alarmID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
