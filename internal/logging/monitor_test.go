package logging

import "testing"

func TestMonitorRecentNewestFirst(t *testing.T) {
	m := NewMonitor(3)
	m.Record(Capture{RequestID: "a"})
	m.Record(Capture{RequestID: "b"})
	m.Record(Capture{RequestID: "c"})

	got := m.Recent()
	if len(got) != 3 || got[0].RequestID != "c" || got[2].RequestID != "a" {
		t.Fatalf("Recent() = %+v, want newest-first [c b a]", got)
	}
}

func TestMonitorEvictsOldest(t *testing.T) {
	m := NewMonitor(2)
	m.Record(Capture{RequestID: "a"})
	m.Record(Capture{RequestID: "b"})
	m.Record(Capture{RequestID: "c"})

	got := m.Recent()
	if len(got) != 2 || got[0].RequestID != "c" || got[1].RequestID != "b" {
		t.Fatalf("Recent() = %+v, want [c b] after evicting a", got)
	}
}

func TestMonitorTruncatesOversizedRequestBody(t *testing.T) {
	m := NewMonitor(1)
	big := make([]byte, MaxRequestCapture+100)
	for i := range big {
		big[i] = byte(i)
	}
	m.Record(Capture{RequestID: "big", RequestBody: big})

	got := m.Recent()[0]
	if len(got.RequestBody) != MaxRequestCapture {
		t.Fatalf("RequestBody len = %d, want capped at %d", len(got.RequestBody), MaxRequestCapture)
	}
	if !got.Dropped {
		t.Fatalf("Dropped = false, want true after truncation")
	}
}
