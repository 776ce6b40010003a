package broker

import (
	"sync"
	"testing"
	"time"
)

func TestRoomKey(t *testing.T) {
	k1 := RoomKey("r1")
	if len(k1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(k1))
	}
	if k1 != RoomKey("r1") {
		t.Error("Expected stable key")
	}
	if k1 == RoomKey("R1") {
		t.Error("Expected room ids to be case-sensitive")
	}
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	r := NewRegistry(nil, testOptions())
	defer r.Close()

	const n = 32
	got := make([]*Broker, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.GetOrCreate("lobby")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("Expected one broker, got two")
		}
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 live broker, got %d", r.Len())
	}
	if got[0] == r.GetOrCreate("other") {
		t.Error("Expected distinct rooms to get distinct brokers")
	}
}

func TestRegistryReclaimsEmptyRoom(t *testing.T) {
	r := NewRegistry(nil, testOptions())
	defer r.Close()

	s := newSession(nil, 8)
	b, err := r.Attach(s, "lobby")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, ok := r.Lookup("lobby"); !ok {
		t.Fatal("Expected room to be registered")
	}

	if err := b.submit(event{kind: eventDisconnect, session: s}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected broker to stop")
	}

	if _, ok := r.Lookup("lobby"); ok {
		t.Error("Expected empty room to be reclaimed")
	}

	s2 := newSession(nil, 8)
	b2, err := r.Attach(s2, "lobby")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if b2 == b {
		t.Error("Expected a fresh broker after reclamation")
	}
}

func TestAttachRetriesClosedBroker(t *testing.T) {
	store := &MapStore{}
	r := NewRegistry(store, testOptions())
	defer r.Close()

	// A stopped broker still present in the store, as seen mid-reclamation.
	stale := newBroker(RoomKey("lobby"), r.opts, nil)
	close(stale.done)
	store.LoadOrStore(stale.key, stale)
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.CompareAndDelete(stale.key, stale)
	}()

	b, err := r.Attach(newSession(nil, 8), "lobby")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if b == stale {
		t.Error("Expected Attach to move past the closed broker")
	}
}

func TestIndependentRegistries(t *testing.T) {
	r1 := NewRegistry(nil, testOptions())
	r2 := NewRegistry(nil, testOptions())
	defer r1.Close()
	defer r2.Close()

	if r1.GetOrCreate("x") == r2.GetOrCreate("x") {
		t.Error("Expected registries not to share brokers")
	}
}
