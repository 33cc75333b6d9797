package allocation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"seat-gateway/allocation/application"
	"seat-gateway/allocation/domain"
	"seat-gateway/allocation/infra"
)

func newTestHandler(t *testing.T, capacity int) (http.Handler, *infra.MemoryStatsStore) {
	t.Helper()
	eng, err := application.New(context.Background(), capacity)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	stats := infra.NewMemoryStatsStore()
	return Handler(eng, Options{Stats: stats}), stats
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()
	var out response
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandler_AllocateMapsOutcomesToStatus(t *testing.T) {
	h, stats := newTestHandler(t, 1)

	w1 := do(h, http.MethodPost, "/allocations/u1")
	if w1.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w1.Code)
	}
	if got := decode(t, w1); got.Message != "booked" || got.Record == nil || got.Record.Sequence != 1 {
		t.Fatalf("unexpected body %+v", got)
	}

	w2 := do(h, http.MethodPost, "/allocations/u1")
	if w2.Code != http.StatusOK || decode(t, w2).Message != "already booked" {
		t.Fatalf("expected 200 already booked, got %d %s", w2.Code, w2.Body.String())
	}

	w3 := do(h, http.MethodPost, "/allocations/u2")
	if w3.Code != http.StatusConflict || decode(t, w3).Message != "sold out" {
		t.Fatalf("expected 409 sold out, got %d %s", w3.Code, w3.Body.String())
	}

	total := stats.Total()
	if total[domain.OutcomeConfirmed] != 1 || total[domain.OutcomeAlreadyAllocated] != 1 || total[domain.OutcomeSoldOut] != 1 {
		t.Fatalf("unexpected stats %+v", total)
	}
}

func TestHandler_ReleaseAndStatus(t *testing.T) {
	h, _ := newTestHandler(t, 2)

	if w := do(h, http.MethodDelete, "/allocations/u1"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown release, got %d", w.Code)
	}

	do(h, http.MethodPost, "/allocations/u1")

	w := do(h, http.MethodGet, "/allocations/u1")
	var st statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || !st.Allocated || st.Record == nil {
		t.Fatalf("expected u1 allocated, got %s (%v)", w.Body.String(), err)
	}

	if w := do(h, http.MethodDelete, "/allocations/u1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on release, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/availability")
	var snap domain.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if snap.Remaining != 2 || snap.Allocated != 0 || snap.LastSequence != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHandler_BlankRequesterIsBadRequest(t *testing.T) {
	h, stats := newTestHandler(t, 1)

	w := do(h, http.MethodPost, "/allocations/%20%20")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if stats.Total()[domain.OutcomeInvalid] != 1 {
		t.Fatalf("expected invalid request to be counted")
	}
}

type failingService struct {
	err error
}

func (f failingService) Allocate(context.Context, string) (domain.Result, error) {
	return domain.Result{}, f.err
}
func (f failingService) Release(context.Context, string) (domain.Result, error) {
	return domain.Result{}, f.err
}
func (f failingService) Snapshot() domain.Snapshot           { return domain.Snapshot{} }
func (f failingService) Lookup(string) (domain.Record, bool) { return domain.Record{}, false }

func TestHandler_InternalFaultsBecomeTryAgainLater(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: %w", domain.ErrAbandoned, context.DeadlineExceeded),
		fmt.Errorf("%w: boom", domain.ErrJournal),
		domain.ErrPoolHalted,
	} {
		h := Handler(failingService{err: err}, Options{})

		w := do(h, http.MethodPost, "/allocations/u1")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%v: expected 503, got %d", err, w.Code)
		}
		if got := decode(t, w); got.Message != "try again later" {
			t.Fatalf("%v: unexpected message %q", err, got.Message)
		}
		if strings.Contains(w.Body.String(), "journal") {
			t.Fatalf("internal error leaked to client: %s", w.Body.String())
		}
		if w.Header().Get("Retry-After") != "1" {
			t.Fatalf("expected Retry-After=1, got %q", w.Header().Get("Retry-After"))
		}
	}
}

func TestHandler_ConcurrentBookingsNeverOversell(t *testing.T) {
	h, stats := newTestHandler(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			do(h, http.MethodPost, fmt.Sprintf("/allocations/user-%d", i))
		}(i)
	}
	wg.Wait()

	total := stats.Total()
	if total[domain.OutcomeConfirmed] != 100 || total[domain.OutcomeSoldOut] != 50 {
		t.Fatalf("expected 100 confirmed / 50 sold out, got %+v", total)
	}
}

func TestRequestID_PropagatesOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "abc" || w.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("expected propagated id, got %q / %q", seen, w.Header().Get(RequestIDHeader))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if len(seen) != 36 || w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}
