package proxy

import (
	"testing"
	"time"

	"github.com/mcptap/mcptap/pkg/jsonrpc"
	"github.com/mcptap/mcptap/pkg/logstore"
)

func TestCorrelator_DurationMicros(t *testing.T) {
	c := NewCorrelator(0)
	sent := time.UnixMicro(1_000_000)
	received := time.UnixMicro(1_050_000)

	if anomaly := c.TrackRequest(logstore.DirectionIn, jsonrpc.StringID("7"), "tools/call", sent); anomaly != "" {
		t.Fatalf("unexpected anomaly: %s", anomaly)
	}

	method, dur, ok, anomaly := c.Resolve(logstore.DirectionOut, jsonrpc.StringID("7"), received)
	if !ok {
		t.Fatalf("response did not match (anomaly %q)", anomaly)
	}
	if method != "tools/call" {
		t.Errorf("method = %q", method)
	}
	if dur != 50000 {
		t.Errorf("duration = %d, want 50000", dur)
	}
}

func TestCorrelator_TypedIDsAreDistinct(t *testing.T) {
	c := NewCorrelator(0)
	now := time.Now()

	c.TrackRequest(logstore.DirectionIn, jsonrpc.StringID("7"), "a", now)
	c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(7), "b", now)

	if c.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2: string and number ids must not collide", c.Outstanding())
	}

	method, _, ok, _ := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(7), now)
	if !ok || method != "b" {
		t.Errorf("number id resolved to %q (ok=%v), want b", method, ok)
	}
	method, _, ok, _ = c.Resolve(logstore.DirectionOut, jsonrpc.StringID("7"), now)
	if !ok || method != "a" {
		t.Errorf("string id resolved to %q (ok=%v), want a", method, ok)
	}
}

func TestCorrelator_ResolveConsumesEntry(t *testing.T) {
	c := NewCorrelator(0)
	now := time.Now()
	c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(1), "ping", now)

	if _, _, ok, _ := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(1), now); !ok {
		t.Fatal("first resolve failed")
	}
	if _, _, ok, _ := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(1), now); ok {
		t.Error("second resolve matched an already-consumed request")
	}
}

func TestCorrelator_UnmatchedResponse(t *testing.T) {
	c := NewCorrelator(0)

	method, dur, ok, anomaly := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(99), time.Now())
	if ok || method != "" || dur != 0 {
		t.Errorf("unmatched response resolved: method=%q dur=%d ok=%v", method, dur, ok)
	}
	if anomaly != "" {
		t.Errorf("unmatched response is not an anomaly, got %q", anomaly)
	}
}

func TestCorrelator_DuplicateIDAnomaly(t *testing.T) {
	c := NewCorrelator(0)
	now := time.Now()

	if anomaly := c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(1), "a", now); anomaly != "" {
		t.Fatalf("first track flagged: %s", anomaly)
	}
	anomaly := c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(1), "b", now)
	if anomaly == "" {
		t.Error("duplicate pending id not flagged")
	}

	// The newer request wins.
	method, _, ok, _ := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(1), now)
	if !ok || method != "b" {
		t.Errorf("resolved to %q (ok=%v), want b", method, ok)
	}
}

func TestCorrelator_NegativeDeltaAnomaly(t *testing.T) {
	c := NewCorrelator(0)
	sent := time.UnixMicro(2_000_000)
	earlier := time.UnixMicro(1_000_000)

	c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(1), "ping", sent)
	method, dur, ok, anomaly := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(1), earlier)

	if ok {
		t.Error("negative delta must not yield a duration")
	}
	if dur != 0 {
		t.Errorf("duration = %d, want 0 (never clamped to a fake value)", dur)
	}
	if anomaly == "" {
		t.Error("negative delta not flagged as anomaly")
	}
	if method != "ping" {
		t.Errorf("method lost on anomaly: %q", method)
	}
}

func TestCorrelator_ServerInitiatedSymmetry(t *testing.T) {
	c := NewCorrelator(0)
	now := time.Now()

	// A sampling request travels server to client; the client's answer
	// travels client to server.
	c.TrackRequest(logstore.DirectionOut, jsonrpc.NumberID(5), "sampling/createMessage", now)

	method, _, ok, _ := c.Resolve(logstore.DirectionIn, jsonrpc.NumberID(5), now.Add(time.Millisecond))
	if !ok || method != "sampling/createMessage" {
		t.Errorf("server-initiated request not matched: method=%q ok=%v", method, ok)
	}
}

func TestCorrelator_Evict(t *testing.T) {
	c := NewCorrelator(time.Minute)
	base := time.Now()

	c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(1), "old", base)
	c.TrackRequest(logstore.DirectionIn, jsonrpc.NumberID(2), "fresh", base.Add(50*time.Second))

	removed := c.Evict(base.Add(time.Minute))
	if removed != 1 {
		t.Fatalf("evicted %d, want 1", removed)
	}
	if c.Outstanding() != 1 {
		t.Errorf("outstanding = %d, want 1", c.Outstanding())
	}
	if _, _, ok, _ := c.Resolve(logstore.DirectionOut, jsonrpc.NumberID(1), base.Add(time.Minute)); ok {
		t.Error("evicted request still resolvable")
	}
}
