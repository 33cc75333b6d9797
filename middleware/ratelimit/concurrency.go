package ratelimit

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"seat-gateway/internal/slot"
	"seat-gateway/middleware/ratelimit/application"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// FailFastReads: GET/HEAD/OPTIONS não esperam vaga.
	FailFastReads bool
	OnReject      RejectFunc
	Logger        *zap.Logger
}

// ConcurrencyMiddleware limita requisições em andamento. Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           slot.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
		FailFastReads:  opts.FailFastReads,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := actionOf(r)
			release, ok := svc.Acquire(r.Context(), action)
			if !ok {
				opts.Logger.Debug("concurrency limit reached",
					zap.Int("max", opts.Max),
					zap.Stringer("action", action),
					zap.String("path", r.URL.Path),
				)
				if opts.OnReject != nil {
					opts.OnReject(r, "")
				}
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
