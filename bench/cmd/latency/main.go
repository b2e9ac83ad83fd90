// Package bench — latency/main.go
//
// Pipeline latency measurement tool.
//
// Measures the time from EventQueue.Enqueue to the moment an
// AnomalyRecord for that event id is visible in the AnomalySink, run
// against a real bbolt-backed StreamProcessor instance in-process (no
// HTTP, no poller — this harness synthesizes events directly onto the
// queue to isolate stream-processor and storage latency).
//
// Method:
//  1. Opens a scratch bbolt database.
//  2. Starts one StreamProcessor instance against it.
//  3. Enqueues N synthetic PushEvents for a rotating set of actors,
//     recording enqueue time.
//  4. Polls the AnomalySink for each event id until a record appears,
//     recording the delta as that event's pipeline latency.
//  5. Results are written to a CSV file and percentiles reported.
//
// Output CSV columns:
//
//	iteration, latency_us, reported
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/octoanomaly/octoanomaly/internal/detectors"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
	"github.com/octoanomaly/octoanomaly/internal/observability"
	"github.com/octoanomaly/octoanomaly/internal/pubsub"
	"github.com/octoanomaly/octoanomaly/internal/storage"
	"github.com/octoanomaly/octoanomaly/internal/streamprocessor"
)

func main() {
	iterations := flag.Int("iterations", 2000, "Number of synthetic events to push through the pipeline")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	dbPath := flag.String("db", "/tmp/anomalyd-bench.db", "Scratch bbolt database path")
	actorSpread := flag.Int("actors", 50, "Number of distinct synthetic actors to rotate through")
	pollTimeout := flag.Duration("poll-timeout", 10*time.Second, "Max time to wait for a single event's AnomalyRecord")
	flag.Parse()

	_ = os.Remove(*dbPath)

	log := zap.NewNop()

	db, err := storage.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close() //nolint:errcheck
	defer os.Remove(*dbPath)

	profiles, err := storage.NewProfileStore(db, 1024)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile store: %v\n", err)
		os.Exit(1)
	}
	queue := storage.NewEventQueue(db, 0)
	sink := storage.NewAnomalySink(db)
	broker := pubsub.NewBroker(64, log)
	metrics := observability.NewMetrics()

	proc := streamprocessor.New(streamprocessor.Config{
		BatchMax:        50,
		BatchMaxWait:    100 * time.Millisecond,
		Lanes:           16,
		DetectorTimeout: 2 * time.Second,
		EventTimeout:    5 * time.Second,
		BatchTimeout:    30 * time.Second,
		PrefilterWarmN:  50,
		PrefilterShare:  0.20,
		ReportFloor:     0.15,
		Behavioral: detectors.BehavioralConfig{
			EWMAAlpha: 0.05, WarmN: 10, MVNN: 30,
			VarianceFloor: 1e-6, ZScoreThreshold: 3.0, MahalanobisAlpha: 0.01,
		},
		Temporal: detectors.TemporalConfig{
			BurstWindowMin: 5, BurstMinCount: 5, BurstMinRate: 2.0,
			CoordWindowMin: 10, CoordMinActors: 3, CoordMinEvents: 10,
			ChiSquarePValue: 0.01,
		},
		WindowIdleAfter: time.Hour,
	}, queue, profiles, sink, broker, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = proc.Run(ctx)
	}()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "reported"})

	var (
		totalReported int
		p50Bucket     [2_000_001]int // microsecond histogram, 0-2s
	)

	for i := 0; i < *iterations; i++ {
		ev := syntheticEvent(i, *actorSpread)

		start := time.Now()
		if err := queue.Enqueue(ev); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue %d: %v\n", i, err)
			continue
		}

		rec, reported := awaitRecord(sink, ev.ID, *pollTimeout)
		latency := time.Since(start)
		if reported {
			totalReported++
		}
		_ = rec

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(p50Bucket) {
			p50Bucket[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(reported),
		})
	}

	p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)

	fmt.Printf("Pipeline Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Persisted: %d/%d (%.1f%%)\n", totalReported, *iterations,
		float64(totalReported)/float64(*iterations)*100)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > 2_000_000 {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds 2s target\n", p99)
		os.Exit(1)
	}
}

// awaitRecord polls the sink until rec appears or timeout elapses.
// Events below the report floor never get a persisted AnomalyRecord in
// the general case, but processEvent always writes one — either the
// full-scoring record or the prefilter/zero-score record — so under
// normal operation every enqueued event eventually resolves.
func awaitRecord(sink *storage.AnomalySink, eventID string, timeout time.Duration) (*storage.AnomalyRecord, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := sink.Get(eventID)
		if err == nil && rec != nil {
			return rec, true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil, false
}

func syntheticEvent(i, actorSpread int) eventmodel.Event {
	actorID := int64(i%actorSpread) + 1
	return eventmodel.Event{
		ID:   fmt.Sprintf("bench-%d", i),
		Type: eventmodel.EventPush,
		Actor: eventmodel.Actor{
			ID:    actorID,
			Login: fmt.Sprintf("bench-actor-%d", actorID),
		},
		Repository: eventmodel.Repository{
			ID:       1000 + actorID,
			FullName: fmt.Sprintf("bench-org/repo-%d", actorID),
		},
		Timestamp: time.Now(),
		Priority:  eventmodel.PriorityHigh,
		Payload: eventmodel.PayloadPush{
			Ref:           "refs/heads/main",
			DefaultBranch: true,
			Commits: []eventmodel.CommitRef{
				{SHA: fmt.Sprintf("%040d", i), Message: "bench commit", FilesChanged: 1},
			},
		},
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
