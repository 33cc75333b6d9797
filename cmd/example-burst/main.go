package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seat-gateway/allocation"
	"seat-gateway/allocation/application"
	"seat-gateway/allocation/domain"
	"seat-gateway/allocation/infra"
	"seat-gateway/internal/logging"
	"seat-gateway/middleware/ratelimit"
)

// Exemplo: N requisitantes disputando um pool em memória pela API HTTP.
func main() {
	var (
		capacity   int
		requesters int
		inflight   int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "example-burst",
		Short:        "Fire concurrent bookings at an in-memory pool and print the outcomes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logLevel, "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return run(cmd.Context(), cmd.OutOrStdout(), capacity, requesters, inflight, logger)
		},
	}
	cmd.Flags().IntVar(&capacity, "capacity", 100, "seats in the pool")
	cmd.Flags().IntVar(&requesters, "requesters", 150, "concurrent requesters")
	cmd.Flags().IntVar(&inflight, "inflight", 50, "max in-flight HTTP requests (0 = unlimited)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, capacity, requesters, inflight int, logger *zap.Logger) error {
	emitter := application.NewEmitter(application.WithEmitterLogger(logger))
	var events int
	var mu sync.Mutex
	emitter.Subscribe("counter", domain.SubscriberFunc(func(context.Context, domain.Event) error {
		mu.Lock()
		events++
		mu.Unlock()
		return nil
	}))

	engine, err := application.New(ctx, capacity,
		application.WithJournal(infra.NewMemoryJournal()),
		application.WithPublisher(emitter),
		application.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	stats := infra.NewMemoryStatsStore()
	h := allocation.Handler(engine, allocation.Options{Stats: stats, Logger: logger, Timeout: 5 * time.Second})
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            inflight,
		AcquireTimeout: 5 * time.Second,
		Logger:         logger,
	})(h)
	srv := httptest.NewServer(allocation.RequestID(h))
	defer srv.Close()

	start := time.Now()
	statuses := make(map[int]int)
	var wg sync.WaitGroup
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/allocations/user-"+strconv.Itoa(i), nil)
			resp, err := srv.Client().Do(req)
			code := 0
			if err == nil {
				code = resp.StatusCode
				_ = resp.Body.Close()
			}
			mu.Lock()
			statuses[code]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		logger.Warn("emitter did not drain", zap.Error(err))
	}

	fmt.Fprintf(out, "capacity=%d requesters=%d elapsed=%s\n", capacity, requesters, elapsed.Round(time.Millisecond))

	codes := make([]int, 0, len(statuses))
	for c := range statuses {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(out, "  http %d: %d\n", c, statuses[c])
	}

	total := stats.Total()
	outcomes := make([]string, 0, len(total))
	for o := range total {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(out, "  %-18s %d\n", o, total[domain.Outcome(o)])
	}

	mu.Lock()
	delivered := events
	mu.Unlock()
	snap, _ := json.Marshal(engine.Snapshot())
	fmt.Fprintf(out, "snapshot: %s\nevents delivered: %d\n", snap, delivered)

	if s := engine.Snapshot(); s.Allocated+s.Remaining != s.Capacity {
		return fmt.Errorf("pool inconsistent: %+v", s)
	}
	return nil
}
