package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"engineroom-ess/internal/audit"
	commandsapp "engineroom-ess/internal/commands/application"
	commands "engineroom-ess/internal/commands/domain"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/registers"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryAudit) Log(_ context.Context, entry audit.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *registers.Store, registers.Layout, *memoryAudit) {
	t.Helper()
	cfg := config.Default()
	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	store, err := registers.NewStore(layout.Regions())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	service, err := commandsapp.NewService(store, layout, cfg.Equipment, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	auditLog := &memoryAudit{}
	handler, err := NewHandler(service, auditLog)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, store, layout, auditLog
}

func TestHandlerIssuesCommand(t *testing.T) {
	is := is.New(t)
	handler, store, layout, auditLog := newTestHandler(t)

	body := `{"equipment":"FAN1","action":"start"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)
	var cmd commands.Command
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &cmd))
	is.Equal(cmd.Equipment, "FAN1")
	is.Equal(cmd.Action, "start")

	pair, err := store.ReadBlock(layout.CommandAddr(6), 2)
	is.NoErr(err)
	is.Equal(pair, []uint16{1, 0})

	is.Equal(len(auditLog.entries), 1)
	entry := auditLog.entries[0]
	is.Equal(entry.Action, "command.issue")
	is.Equal(entry.ResourceType, "equipment")
	is.Equal(entry.ResourceID, "FAN1")
}

func TestHandlerRejectsUnknownEquipment(t *testing.T) {
	handler, _, _, auditLog := newTestHandler(t)

	body := `{"equipment":"GEN1","action":"stop"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(auditLog.entries) != 0 {
		t.Fatalf("expected no audit entry for rejected command, got %d", len(auditLog.entries))
	}
}

func TestHandlerRejectsInvalidBody(t *testing.T) {
	handler, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlerListsEquipment(t *testing.T) {
	is := is.New(t)
	handler, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	is.Equal(rec.Code, http.StatusOK)
	var list []config.Equipment
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &list))
	is.Equal(len(list), 10)
	is.Equal(list[0].Name, "SWP1")
	is.Equal(list[9].Name, "FAN4")
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	handler, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/commands", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
