package allocation

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"seat-gateway/allocation/domain"
)

// Service é o que o handler precisa do motor. *application.Engine implementa.
type Service interface {
	Allocate(ctx context.Context, requesterID string) (domain.Result, error)
	Release(ctx context.Context, requesterID string) (domain.Result, error)
	Snapshot() domain.Snapshot
	Lookup(requesterID string) (domain.Record, bool)
}

type Options struct {
	Stats  domain.StatsStore
	Logger *zap.Logger
	// Timeout limita a espera pela seção exclusiva. 0 = só o ctx da requisição.
	Timeout time.Duration
	// RetryAfter vai no header das respostas 503.
	RetryAfter time.Duration
}

type response struct {
	Outcome   domain.Outcome `json:"outcome,omitempty"`
	Message   string         `json:"message"`
	Record    *domain.Record `json:"record,omitempty"`
	Remaining *int           `json:"remaining,omitempty"`
	Capacity  *int           `json:"capacity,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type statusResponse struct {
	RequesterID string         `json:"requester_id"`
	Allocated   bool           `json:"allocated"`
	Record      *domain.Record `json:"record,omitempty"`
}

var outcomeStatus = map[domain.Outcome]struct {
	code    int
	message string
}{
	domain.OutcomeConfirmed:        {http.StatusCreated, "booked"},
	domain.OutcomeAlreadyAllocated: {http.StatusOK, "already booked"},
	domain.OutcomeSoldOut:          {http.StatusConflict, "sold out"},
	domain.OutcomeReleased:         {http.StatusOK, "released"},
	domain.OutcomeNotFound:         {http.StatusNotFound, "not found"},
}

// Handler monta as rotas do motor.
func Handler(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	h := &handler{svc: svc, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /allocations/{requester}", h.mutate("allocate", svc.Allocate))
	mux.HandleFunc("DELETE /allocations/{requester}", h.mutate("release", svc.Release))
	mux.HandleFunc("GET /allocations/{requester}", h.status)
	mux.HandleFunc("GET /availability", h.availability)
	return mux
}

type handler struct {
	svc  Service
	opts Options
}

func (h *handler) mutate(op string, fn func(context.Context, string) (domain.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester := r.PathValue("requester")

		ctx := r.Context()
		if h.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
			defer cancel()
		}

		res, err := fn(ctx, requester)
		if err != nil {
			outcome := h.writeError(w, r, op, requester, err)
			h.record(r, op, requester, outcome)
			return
		}

		st := outcomeStatus[res.Outcome]
		remaining, capacity := res.Remaining, res.Capacity
		writeJSON(w, st.code, response{
			Outcome:   res.Outcome,
			Message:   st.message,
			Record:    res.Record,
			Remaining: &remaining,
			Capacity:  &capacity,
		})
		h.record(r, op, requester, res.Outcome)
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, op, requester string, err error) domain.Outcome {
	if errors.Is(err, domain.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, response{Message: "invalid request", Error: err.Error()})
		return domain.OutcomeInvalid
	}

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("requester", requester),
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, domain.ErrInvariantViolation), errors.Is(err, domain.ErrPoolHalted):
		h.opts.Logger.Error("allocation engine fault", fields...)
	default:
		h.opts.Logger.Warn("allocation not completed", fields...)
	}

	w.Header().Set("Retry-After", formatSeconds(h.opts.RetryAfter))
	writeJSON(w, http.StatusServiceUnavailable, response{Message: "try again later"})
	return domain.OutcomeFailed
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	requester := r.PathValue("requester")
	rec, ok := h.svc.Lookup(requester)
	out := statusResponse{RequesterID: requester, Allocated: ok}
	if ok {
		out.Record = &rec
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) availability(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

func (h *handler) record(r *http.Request, op, requester string, o domain.Outcome) {
	if h.opts.Stats == nil {
		return
	}
	err := h.opts.Stats.Record(r.Context(), domain.StatsEvent{
		RequesterID: requester,
		Outcome:     o,
		Operation:   op,
		At:          time.Now(),
	})
	if err != nil {
		h.opts.Logger.Debug("stats record failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func formatSeconds(d time.Duration) string {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
