package capture

import (
	"sort"
	"sync"
	"testing"

	"netforge/pkg/traffic"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s := New(10)
	for want := uint64(1); want <= 3; want++ {
		if got := s.Append(traffic.NewRequest("GET", "http://example.com/")); got != want {
			t.Fatalf("Append id = %d, want %d", got, want)
		}
	}
	e, ok := s.Get(2)
	if !ok || e.Request.ID != 2 {
		t.Fatalf("Get(2) = %+v, %v", e, ok)
	}
	if _, ok := s.Get(0); ok {
		t.Fatal("id 0 must not exist")
	}
	if _, ok := s.Get(4); ok {
		t.Fatal("id 4 must not exist yet")
	}
}

func TestAttachResponseIdempotent(t *testing.T) {
	s := New(4)
	id := s.Append(traffic.NewRequest("POST", "https://example.com/login"))

	resp := traffic.NewResponse()
	resp.StatusCode = 302
	if !s.AttachResponse(id, resp) {
		t.Fatal("first attach should succeed")
	}
	resp.StatusCode = 500
	if s.AttachResponse(id, resp) {
		t.Fatal("second attach must be a no-op")
	}
	if s.AttachResponse(99, resp) {
		t.Fatal("attach on unknown id must be a no-op")
	}
	e, _ := s.Get(id)
	if e.Response == nil || e.Response.StatusCode != 302 || e.Response.RequestID != id {
		t.Fatalf("unexpected response %+v", e.Response)
	}
}

func TestEvictionKeepsNewest(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.Append(traffic.NewRequest("GET", "http://example.com/"))
	}
	if _, ok := s.Get(2); ok {
		t.Fatal("id 2 should be evicted")
	}
	for id := uint64(3); id <= 5; id++ {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("id %d should be retained", id)
		}
	}
	if s.AttachResponse(1, traffic.NewResponse()) {
		t.Fatal("attach on evicted id must be a no-op")
	}
	st := s.Stats()
	if st.Len != 3 || st.Evicted != 2 || st.OldestID != 3 || st.NextID != 6 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(2)
	req := traffic.NewRequest("GET", "http://example.com/")
	req.Headers.Add("X-A", "1")
	req.Body = []byte("abc")
	id := s.Append(req)
	req.Body[0] = 'z'

	e, _ := s.Get(id)
	if string(e.Request.Body) != "abc" {
		t.Fatalf("store must keep its own copy, got %q", e.Request.Body)
	}
	e.Request.Headers[0].Value = "changed"
	again, _ := s.Get(id)
	if again.Request.Headers.Get("X-A") != "1" {
		t.Fatal("mutating a returned entry leaked into the store")
	}
}

func TestConcurrentAppendIDsUniqueAndIncreasing(t *testing.T) {
	const workers, perWorker = 8, 250
	s := New(100)

	var mu sync.Mutex
	seen := make([]uint64, 0, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perWorker)
			var last uint64
			for i := 0; i < perWorker; i++ {
				id := s.Append(traffic.NewRequest("GET", "http://example.com/"))
				if id <= last {
					t.Errorf("ids not increasing within goroutine: %d after %d", id, last)
				}
				last = id
				local = append(local, id)
			}
			mu.Lock()
			seen = append(seen, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, id := range seen {
		if id != uint64(i+1) {
			t.Fatalf("ids are not gap-free: position %d has id %d", i, id)
		}
	}

	recent := s.Recent(0)
	if len(recent) != 100 {
		t.Fatalf("expected 100 retained entries, got %d", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Request.ID != recent[i-1].Request.ID+1 {
			t.Fatalf("retained ids not contiguous at %d", i)
		}
	}
	if recent[len(recent)-1].Request.ID != workers*perWorker {
		t.Fatalf("newest id = %d", recent[len(recent)-1].Request.ID)
	}
}
