package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "engineroom-ess/internal/alarms/application"
	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/alarms/interfaces"
	"engineroom-ess/internal/audit"
	"engineroom-ess/internal/auth"
	"engineroom-ess/internal/observability/metrics"
)

const timeLayout = time.RFC3339

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
	audit   audit.Logger
}

// recordsResponse is the list/latest payload: the ordered records plus
// their count, so display clients page without re-counting.
type recordsResponse struct {
	Data  []alarms.Record `json:"data"`
	Count int             `json:"count"`
}

// NewHandler constructs a handler. The audit logger may be nil.
func NewHandler(service *alarmapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service, audit: auditLogger}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/alarms":
		h.get(w, r, h.handleList)
	case "/api/v1/alarms/latest":
		h.get(w, r, h.handleLatest)
	case "/api/v1/alarms/stats":
		h.get(w, r, h.handleStats)
	case "/api/v1/alarms/export":
		h.get(w, r, h.handleExport)
	default:
		if strings.HasPrefix(r.URL.Path, "/api/v1/alarms/") {
			h.handleAction(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, fn func(http.ResponseWriter, *http.Request)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recordsResponse{Data: list, Count: len(list)})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	count, err := parseIntQuery(r, "count")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.Latest(r.Context(), count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recordsResponse{Data: list, Count: len(list)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntQuery(r, "days")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := h.service.Statistics(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	filter, err := parseListFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, contentType, err := interfaces.BuildAlarmExport(format, list)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alarms.%s", exportExtension(format)))
	_, _ = w.Write(payload)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "ack" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	rec, err := h.service.Acknowledge(r.Context(), id)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.audit != nil {
		_ = h.audit.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "alarm.ack",
			ResourceType: "alarm",
			ResourceID:   id,
			IP:           audit.ClientIP(r),
		})
	}
	writeJSON(w, rec)
}

func parseListFilter(r *http.Request) (alarmapp.ListFilter, error) {
	var filter alarmapp.ListFilter
	var err error
	if filter.From, err = parseTimeQuery(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeQuery(r, "to"); err != nil {
		return filter, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return filter, errors.New("to must be after from")
	}
	filter.SensorID = r.URL.Query().Get("sensor_id")
	filter.Type = r.URL.Query().Get("type")
	filter.Status = r.URL.Query().Get("status")
	if filter.Limit, err = parseIntQuery(r, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return parsed, nil
}

func exportExtension(format string) string {
	if format == "" {
		return interfaces.FormatCSV
	}
	return format
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
