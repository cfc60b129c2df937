package testutil

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

// ResourceSample is the process state at one instant.
type ResourceSample struct {
	At         time.Time
	HeapMB     float64
	Goroutines int
}

// ResourceReport summarizes samples taken between Start and Stop.
type ResourceReport struct {
	First, Last ResourceSample
	PeakHeapMB  float64
	PeakRoutine int
	Samples     int
}

// HeapGrowthMB is the heap difference between the last and first sample.
func (r ResourceReport) HeapGrowthMB() float64 {
	return r.Last.HeapMB - r.First.HeapMB
}

// GoroutineGrowth is the goroutine difference between the last and first sample.
func (r ResourceReport) GoroutineGrowth() int {
	return r.Last.Goroutines - r.First.Goroutines
}

func (r ResourceReport) String() string {
	return fmt.Sprintf("heap %.1f -> %.1f MB (peak %.1f), goroutines %d -> %d (peak %d), %d samples over %v",
		r.First.HeapMB, r.Last.HeapMB, r.PeakHeapMB,
		r.First.Goroutines, r.Last.Goroutines, r.PeakRoutine,
		r.Samples, r.Last.At.Sub(r.First.At))
}

// ResourceMonitor samples heap usage and goroutine counts in the background.
//
// Example:
//
//	mon := testutil.StartResourceMonitor(100 * time.Millisecond)
//	// ... drive readers ...
//	report := mon.Stop()
//	t.Log(report)
type ResourceMonitor struct {
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	report ResourceReport
}

// StartResourceMonitor takes a first sample and keeps sampling every interval.
func StartResourceMonitor(interval time.Duration) *ResourceMonitor {
	m := &ResourceMonitor{done: make(chan struct{})}
	m.sample()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()

	return m
}

func (m *ResourceMonitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := ResourceSample{
		At:         time.Now(),
		HeapMB:     float64(ms.HeapAlloc) / (1 << 20),
		Goroutines: runtime.NumGoroutine(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.report.Samples == 0 {
		m.report.First = s
	}
	m.report.Last = s
	m.report.PeakHeapMB = max(m.report.PeakHeapMB, s.HeapMB)
	m.report.PeakRoutine = max(m.report.PeakRoutine, s.Goroutines)
	m.report.Samples++
}

// Stop takes a last sample and returns the report.
func (m *ResourceMonitor) Stop() ResourceReport {
	close(m.done)
	m.wg.Wait()
	m.sample()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.report
}

// RequireGoroutinesSettle fails t unless the goroutine count drops back to at
// most baseline+slack within timeout.
func RequireGoroutinesSettle(t *testing.T, baseline, slack int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		n := runtime.NumGoroutine()
		if n <= baseline+slack {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines did not settle: %d running, baseline %d (+%d)", n, baseline, slack)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
