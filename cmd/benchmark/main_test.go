package main

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	s := summarize(latencies, time.Second)

	assert.Equal(t, 100, s.calls)
	assert.Equal(t, time.Millisecond, s.min)
	assert.Equal(t, 50*time.Millisecond, s.p50)
	assert.Equal(t, 95*time.Millisecond, s.p95)
	assert.Equal(t, 99*time.Millisecond, s.p99)
	assert.Equal(t, 100*time.Millisecond, s.max)
	assert.Equal(t, 100*time.Millisecond, latencies[0], "input must not be reordered")
}

func TestSummarize_Empty(t *testing.T) {
	s := summarize(nil, 0)
	assert.Equal(t, 0, s.calls)
	assert.Empty(t, s.failures)
}

func TestRun_CountsFailuresByCode(t *testing.T) {
	var n atomic.Int64
	call := func(_ context.Context, args orcall.Record) error {
		n.Add(1)
		if args["fail"] != nil {
			return orcall.NewProcedureNotFoundError("x")
		}
		if args["boom"] != nil {
			return errors.New("boom")
		}
		return nil
	}
	inputs := []orcall.Record{
		{},
		{"fail": orcall.Integer(1)},
		{"fail": orcall.Integer(1)},
		{"boom": orcall.Integer(1)},
	}
	s := run(context.Background(), call, inputs, 3)

	assert.Equal(t, int64(4), n.Load())
	assert.Equal(t, 4, s.calls)
	assert.Equal(t, map[string]int{orcall.ErrCodeProcedureNotFound: 2, "OTHER": 1}, s.failures)
}

func TestJitter(t *testing.T) {
	args := orcall.Record{"counter": orcall.Integer(0), "hellostring": orcall.String("x")}
	out := jitter(args, rand.New(rand.NewSource(1)))

	assert.Equal(t, orcall.String("x"), out["hellostring"])
	assert.IsType(t, orcall.Integer(0), out["counter"])
	assert.Equal(t, orcall.Integer(0), args["counter"], "input must not be modified")
}
