package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversBufferedEventsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Type: "login_success", Success: true})
	}
	d.Close()

	for i := 0; i < 3; i++ {
		select {
		case ev := <-sink.Events():
			if ev.Type != "login_success" {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	d.Emit(context.Background(), Event{Type: "after_close"})
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{Type: "logout", AccountID: "u1", Success: true})
	var got map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["type"] != "logout" || got["account_id"] != "u1" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := MultiSink{NewZapSink(zap.New(core)), nil}
	sink.Emit(context.Background(), Event{Type: "login_success", Success: true, AccountID: "u1"})
	sink.Emit(context.Background(), Event{Type: "refresh_reuse", Error: "reused", Metadata: map[string]string{"token_id": "t1"}})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["meta.token_id"] != "t1" {
		t.Fatalf("metadata not logged: %v", entries[1].ContextMap())
	}
}
