package discovery

import (
	"testing"
	"time"
)

func TestUpsertReportsFirstSighting(t *testing.T) {
	tbl := NewPeerTable(30*time.Second, nil)

	first := tbl.Upsert("10.0.0.5", "laptop", 8080)
	if !first {
		t.Fatalf("expected first sighting to report true")
	}
	second := tbl.Upsert("10.0.0.5", "laptop", 8080)
	if second {
		t.Fatalf("expected second sighting to report false")
	}
}

func TestLiveEvictsStalePeers(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }
	tbl := NewPeerTable(30*time.Second, clock)

	tbl.Upsert("10.0.0.5", "laptop", 8080)
	live := tbl.Live()
	if len(live) != 1 {
		t.Fatalf("expected 1 live peer, got %d", len(live))
	}

	current = current.Add(31 * time.Second)
	live = tbl.Live()
	if len(live) != 0 {
		t.Fatalf("expected peer to be evicted, got %d", len(live))
	}
	if tbl.Count() != 0 {
		t.Fatalf("expected table to drop evicted peer, count=%d", tbl.Count())
	}
}

func TestLiveReturnsMatchingFields(t *testing.T) {
	tbl := NewPeerTable(30*time.Second, nil)
	tbl.Upsert("10.0.0.7", "phone", 9090)

	live := tbl.Live()
	if len(live) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(live))
	}
	p := live[0]
	if p.IP != "10.0.0.7" || p.DeviceName != "phone" || p.APIPort != 9090 {
		t.Fatalf("unexpected peer record: %+v", p)
	}
}
