package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/factory"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

type options struct {
	procedure    string
	argsJSON     string
	sigText      string
	calls        int
	workers      int
	warmup       int
	seed         int64
	seedProvided bool
}

// summary holds the latency distribution of one run.
type summary struct {
	calls    int
	failures map[string]int
	elapsed  time.Duration
	min      time.Duration
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	max      time.Duration
}

func main() {
	log.SetFlags(0)

	opts := parseFlags()
	cfg := factory.ConfigFromEnv()
	logger, err := factory.NewLogger(orcall.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}
	defer d.Close(ctx)

	raw, err := internal.DecodeJSONArgs([]byte(opts.argsJSON))
	if err != nil {
		log.Fatalf("invalid -args: %v", err)
	}
	sig, source, err := internal.ResolveJSONSignature(ctx, d, opts.procedure, opts.sigText, raw)
	if err != nil {
		log.Fatalf("failed to resolve signature of %s: %v", opts.procedure, err)
	}
	args, err := internal.ArgsFromJSON(sig, raw)
	if err != nil {
		log.Fatalf("failed to convert arguments: %v", err)
	}
	log.Printf("[info] %s on %s/%s, signature %q (%s)", opts.procedure, cfg.Session.Backend, cfg.Session.Image, sig.String(), source)

	if !opts.seedProvided {
		log.Printf("[info] Using random seed %d", opts.seed)
	}
	random := rand.New(rand.NewSource(opts.seed))

	call := func(ctx context.Context, args orcall.Record) error {
		_, err := d.Call(ctx, opts.procedure, args, orcall.WithSignature(sig))
		return err
	}

	for i := 0; i < opts.warmup; i++ {
		if err := call(ctx, jitter(args, random)); err != nil {
			log.Fatalf("warmup call failed: %v", err)
		}
	}

	inputs := make([]orcall.Record, opts.calls)
	for i := range inputs {
		inputs[i] = jitter(args, random)
	}
	s := run(ctx, call, inputs, opts.workers)

	log.Println("[success] Benchmark complete:")
	log.Printf("  - calls: %d in %s (%.1f calls/s)", s.calls, s.elapsed.Round(time.Millisecond), float64(s.calls)/s.elapsed.Seconds())
	log.Printf("  - latency: min=%s p50=%s p95=%s p99=%s max=%s", s.min, s.p50, s.p95, s.p99, s.max)
	for code, n := range s.failures {
		log.Printf("  - failures %s: %d", code, n)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.procedure, "procedure", "helloworld", "procedure to call")
	flag.StringVar(&opts.argsJSON, "args", `{"hellostring": "bench", "counter": 0}`, "arguments as a JSON object")
	flag.StringVar(&opts.sigText, "sig", "", "explicit signature text (default: resolve once up front)")
	flag.IntVar(&opts.calls, "calls", 10000, "number of calls to time")
	flag.IntVar(&opts.workers, "workers", 1, "number of goroutines issuing calls")
	flag.IntVar(&opts.warmup, "warmup", 100, "number of untimed calls before the run")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")

	flag.Parse()

	if *seed == 0 {
		opts.seed = time.Now().UnixNano()
		opts.seedProvided = false
	} else {
		opts.seed = *seed
		opts.seedProvided = true
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	if opts.calls < 1 {
		opts.calls = 1
	}
	return opts
}

// run issues one call per input across workers and summarises the latencies.
func run(ctx context.Context, call func(context.Context, orcall.Record) error, inputs []orcall.Record, workers int) summary {
	latencies := make([]time.Duration, len(inputs))
	codes := make([]string, len(inputs))
	next := make(chan int)

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				t0 := time.Now()
				err := call(ctx, inputs[i])
				latencies[i] = time.Since(t0)
				if err != nil {
					codes[i] = errorCode(err)
				}
			}
		}()
	}
	for i := range inputs {
		next <- i
	}
	close(next)
	wg.Wait()

	s := summarize(latencies, time.Since(start))
	for _, code := range codes {
		if code != "" {
			s.failures[code]++
		}
	}
	return s
}

func summarize(latencies []time.Duration, elapsed time.Duration) summary {
	s := summary{calls: len(latencies), elapsed: elapsed, failures: make(map[string]int)}
	if len(latencies) == 0 {
		return s
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.min = sorted[0]
	s.max = sorted[len(sorted)-1]
	s.p50 = percentile(sorted, 50)
	s.p95 = percentile(sorted, 95)
	s.p99 = percentile(sorted, 99)
	return s
}

// percentile uses the nearest-rank method on sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func errorCode(err error) string {
	var callErr *orcall.CallError
	if errors.As(err, &callErr) {
		return callErr.Code
	}
	return "OTHER"
}

// jitter returns a copy of args with every top-level INTEGER replaced by a
// random value, so repeated calls do not send identical payloads.
func jitter(args orcall.Record, r *rand.Rand) orcall.Record {
	out := make(orcall.Record, len(args))
	for name, v := range args {
		if _, ok := v.(orcall.Integer); ok {
			out[name] = orcall.Integer(r.Int63n(1 << 20))
			continue
		}
		out[name] = v
	}
	return out
}

func init() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: benchmark [options]")
		fmt.Fprintln(flag.CommandLine.Output(), "Times repeated calls of one procedure; the application is selected with ORCALL_* variables.")
		flag.PrintDefaults()
	}
}
