package metrics

import (
	"testing"
	"time"
)

func TestRecordCounts(t *testing.T) {
	m := New()

	m.Record("https://cdn.example/a.m3u8", "cdn.example", CategoryManifest, true, 200, 120*time.Millisecond)
	m.Record("https://cdn.example/seg1.ts", "cdn.example", CategorySegment, true, 200, 40*time.Millisecond)
	m.Record("https://cdn.example/seg2.ts", "cdn.example", CategorySegment, false, 403, 15*time.Millisecond)
	m.Record("https://other.example/b.m3u8", "other.example", CategoryManifest, true, 200, 80*time.Millisecond)

	s := m.Snapshot()

	if s.Global.Requests != 4 || s.Global.Errors != 1 {
		t.Errorf("global = %d requests %d errors, want 4/1", s.Global.Requests, s.Global.Errors)
	}
	if s.Global.ManifestRequests != 2 || s.Global.SegmentRequests != 2 {
		t.Errorf("global categories = %d manifest %d segment, want 2/2",
			s.Global.ManifestRequests, s.Global.SegmentRequests)
	}
	if len(s.Hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(s.Hosts))
	}

	var cdn HostSnapshot
	for _, h := range s.Hosts {
		if h.Host == "cdn.example" {
			cdn = h
		}
	}
	if cdn.Requests != 3 || cdn.Errors != 1 {
		t.Errorf("cdn.example = %d requests %d errors, want 3/1", cdn.Requests, cdn.Errors)
	}
	if cdn.LastErrorCode != 403 {
		t.Errorf("cdn.example last error = %d, want 403", cdn.LastErrorCode)
	}
	if cdn.LastErrorTime.IsZero() {
		t.Error("cdn.example last error time not set")
	}
}

func TestRates(t *testing.T) {
	m := New()

	// 2 of 3 succeed -> 66.67 %
	m.Record("u", "h.example", CategorySegment, true, 200, time.Millisecond)
	m.Record("u", "h.example", CategorySegment, true, 200, time.Millisecond)
	m.Record("u", "h.example", CategorySegment, false, 502, time.Millisecond)

	s := m.Snapshot()
	if s.Global.SuccessRate != 66.67 {
		t.Errorf("success rate = %v, want 66.67", s.Global.SuccessRate)
	}
	if s.Global.SegmentErrorRate != 33.33 {
		t.Errorf("segment error rate = %v, want 33.33", s.Global.SegmentErrorRate)
	}
}

func TestTimingMean(t *testing.T) {
	m := New()

	m.Record("u", "h.example", CategoryManifest, true, 200, 100*time.Millisecond)
	m.Record("u", "h.example", CategoryManifest, true, 200, 300*time.Millisecond)

	s := m.Snapshot()
	if s.Global.ManifestMeanMs != 200 {
		t.Errorf("manifest mean = %v ms, want 200", s.Global.ManifestMeanMs)
	}
	if s.Global.SegmentMeanMs != 0 {
		t.Errorf("segment mean = %v ms, want 0", s.Global.SegmentMeanMs)
	}
}

func TestTimingRingBounded(t *testing.T) {
	r := newTimingRing()

	for i := 0; i < 2500; i++ {
		r.push(time.Millisecond)
	}

	if r.count() != timingCapacity {
		t.Errorf("count = %d, want %d", r.count(), timingCapacity)
	}
	if r.mean() != 1 {
		t.Errorf("mean = %v ms, want 1", r.mean())
	}
}

func TestReset(t *testing.T) {
	m := New()

	m.Record("u", "h.example", CategoryManifest, true, 200, time.Millisecond)
	m.Reset()

	s := m.Snapshot()
	if s.Global.Requests != 0 || len(s.Hosts) != 0 {
		t.Errorf("after reset: %d global requests, %d hosts, want 0/0", s.Global.Requests, len(s.Hosts))
	}
}

func TestSubtitleCountsAsSegment(t *testing.T) {
	m := New()

	m.Record("u", "h.example", CategorySubtitle, true, 200, time.Millisecond)

	s := m.Snapshot()
	if s.Global.SegmentRequests != 1 {
		t.Errorf("segment requests = %d, want subtitle folded in", s.Global.SegmentRequests)
	}
}
