package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"seat-gateway/middleware/ratelimit/application"
	"seat-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

// RejectFunc é chamado para cada requisição bloqueada (ex.: estatísticas).
type RejectFunc func(r *http.Request, key string)

type Options struct {
	Store               domain.LimiterStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	// ExemptReads deixa GET/HEAD/OPTIONS passarem sem gastar token.
	ExemptReads bool
	OnReject    RejectFunc
	Logger      *zap.Logger
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// PathKeyFunc usa o primeiro segmento depois de prefix como chave
// (ex.: "/allocations/" → requisitante). Fora do prefixo, usa fallback.
//
// O middleware roda antes do ServeMux, então r.PathValue ainda não existe aqui.
func PathKeyFunc(prefix string, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if rest, ok := strings.CutPrefix(r.URL.Path, prefix); ok {
			seg, _, _ := strings.Cut(rest, "/")
			if seg = strings.TrimSpace(seg); seg != "" {
				return "requester:" + seg
			}
		}
		return fallback(r)
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.Service{
		Store:       opts.Store,
		RetryAfter:  opts.RetryAfter,
		ExemptReads: opts.ExemptReads,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Store.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", strconv.FormatFloat(ri.RPS(), 'f', -1, 64))
					w.Header().Set("X-RateLimit-Burst", strconv.Itoa(ri.Burst()))
				}
			}

			dec := svc.Decide(domain.Key(key), actionOf(r))
			if !dec.Allowed {
				opts.Logger.Debug("rate limited",
					zap.String("key", key),
					zap.Stringer("action", dec.Action),
					zap.String("path", r.URL.Path),
					zap.Duration("retry_after", dec.RetryAfter),
				)
				if opts.OnReject != nil {
					opts.OnReject(r, key)
				}
				w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func actionOf(r *http.Request) domain.Action {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return domain.ActionRead
	default:
		return domain.ActionWrite
	}
}

// retryAfterSeconds trunca para segundos inteiros, com mínimo de 1.
func retryAfterSeconds(d time.Duration) string {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
