package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingSink запоминает последние переданные значения.
type recordingSink struct {
	mu     sync.Mutex
	values map[string]float64
}

func (s *recordingSink) Report(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]float64)
	}
	s.values[name] = value
}

func (s *recordingSink) get(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	if err != nil {
		t.Fatalf("NewPrometheusSink ошибка: %v", err)
	}

	sink.Report(MetricQueueSize, 3)
	sink.Report(MetricPoolSize, 4)
	sink.Report(MetricActiveCount, 2)
	sink.Report("unknown", 100)

	tests := []struct {
		name string
		want float64
	}{
		{MetricQueueSize, 3},
		{MetricPoolSize, 4},
		{MetricActiveCount, 2},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(sink.gauges[tt.name]); got != tt.want {
			t.Errorf("%s = %v, ожидалось %v", tt.name, got, tt.want)
		}
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 3 {
		t.Errorf("зарегистрировано метрик %d (err=%v), ожидалось 3", n, err)
	}

	if _, err := NewPrometheusSink(reg); err == nil {
		t.Error("повторная регистрация в том же registry не вернула ошибку")
	}
}

func TestPool_ReportGauges(t *testing.T) {
	p := newTestPool(t, 3, 8)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.ReportGauges(ctx, sink, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok := sink.get(MetricPoolSize); ok {
			if v != 3 {
				t.Errorf("poolSize = %v, ожидалось 3", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("показатели не переданы")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := sink.get(MetricQueueSize); !ok {
		t.Error("queueSize не передан")
	}
	if _, ok := sink.get(MetricActiveCount); !ok {
		t.Error("activeCount не передан")
	}

	cancel()
	waitFor(t, done, "завершение ReportGauges")
}
