package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	commands "engineroom-ess/internal/commands/domain"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/registers"
)

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *registers.Store, registers.Layout) {
	t.Helper()
	cfg := config.Default()
	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	store, err := registers.NewStore(layout.Regions())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := &stubClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(store, layout, cfg.Equipment, zerolog.Nop(), WithClock(clock))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, store, layout
}

func TestIssueCommandWritesStartPair(t *testing.T) {
	is := is.New(t)
	service, store, layout := newTestService(t)

	cmd, err := service.IssueCommand(context.Background(), IssueRequest{Equipment: "FWP2", Action: "start"})
	is.NoErr(err)
	is.Equal(cmd.Equipment, "FWP2")
	is.Equal(cmd.Action, commands.ActionStart)
	is.Equal(cmd.IssuedAt, time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))

	// FWP2 sits at index 4 in register order.
	pair, err := store.ReadBlock(layout.CommandAddr(4), 2)
	is.NoErr(err)
	is.Equal(pair, []uint16{1, 0})
}

func TestIssueCommandWritesStopPair(t *testing.T) {
	is := is.New(t)
	service, store, layout := newTestService(t)

	_, err := service.IssueCommand(context.Background(), IssueRequest{Equipment: "fan4", Action: "stop"})
	is.NoErr(err)

	pair, err := store.ReadBlock(layout.CommandAddr(9), 2)
	is.NoErr(err)
	is.Equal(pair, []uint16{0, 1})
}

func TestIssueCommandOverwritesPendingPair(t *testing.T) {
	is := is.New(t)
	service, store, layout := newTestService(t)

	_, err := service.IssueCommand(context.Background(), IssueRequest{Equipment: "SWP1", Action: "start"})
	is.NoErr(err)
	_, err = service.IssueCommand(context.Background(), IssueRequest{Equipment: "SWP1", Action: "stop"})
	is.NoErr(err)

	pair, err := store.ReadBlock(layout.CommandAddr(0), 2)
	is.NoErr(err)
	is.Equal(pair, []uint16{0, 1})
}

func TestIssueCommandRejectsUnknownEquipment(t *testing.T) {
	is := is.New(t)
	service, _, _ := newTestService(t)

	_, err := service.IssueCommand(context.Background(), IssueRequest{Equipment: "SWP9", Action: "start"})
	is.True(errors.Is(err, commands.ErrUnknownEquipment))
}

func TestIssueCommandRejectsBadAction(t *testing.T) {
	service, _, _ := newTestService(t)

	if _, err := service.IssueCommand(context.Background(), IssueRequest{Equipment: "SWP1", Action: "restart"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
	if _, err := service.IssueCommand(context.Background(), IssueRequest{Action: "start"}); err == nil {
		t.Fatal("expected error for missing equipment")
	}
}
