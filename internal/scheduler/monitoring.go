package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Имена показателей пула, которые передаются в MonitoringSink.
const (
	MetricQueueSize   = "scheduler.queueSize"
	MetricPoolSize    = "scheduler.poolSize"
	MetricActiveCount = "scheduler.activeCount"
)

// MonitoringSink принимает значения показателей планировщика.
type MonitoringSink interface {
	Report(name string, value float64)
}

// PrometheusSink — MonitoringSink на Prometheus gauges.
type PrometheusSink struct {
	gauges map[string]prometheus.Gauge
}

// NewPrometheusSink создаёт gauges показателей пула и регистрирует их в registerer.
func NewPrometheusSink(registerer prometheus.Registerer) (*PrometheusSink, error) {
	defs := []struct {
		name, metric, help string
	}{
		{MetricQueueSize, "ym_scheduler_queue_size", "Количество задач в очереди планировщика"},
		{MetricPoolSize, "ym_scheduler_pool_size", "Количество воркеров планировщика"},
		{MetricActiveCount, "ym_scheduler_active_count", "Количество выполняющихся задач планировщика"},
	}

	s := &PrometheusSink{gauges: make(map[string]prometheus.Gauge, len(defs))}
	for _, d := range defs {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: d.metric, Help: d.help})
		if err := registerer.Register(g); err != nil {
			return nil, fmt.Errorf("регистрация %s: %w", d.metric, err)
		}
		s.gauges[d.name] = g
	}
	return s, nil
}

// Report устанавливает значение gauge. Неизвестные имена игнорируются.
func (s *PrometheusSink) Report(name string, value float64) {
	if g, ok := s.gauges[name]; ok {
		g.Set(value)
	}
}

// reportOnce передаёт текущие показатели пула.
func (p *Pool) reportOnce(sink MonitoringSink) {
	sink.Report(MetricQueueSize, float64(p.QueueSize()))
	sink.Report(MetricPoolSize, float64(p.PoolSize()))
	sink.Report(MetricActiveCount, float64(p.ActiveCount()))
}

// ReportGauges передаёт показатели пула в sink сразу и затем с интервалом
// interval, пока ctx не завершён. Блокирует вызывающую горутину.
func (p *Pool) ReportGauges(ctx context.Context, sink MonitoringSink, interval time.Duration) {
	p.reportOnce(sink)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reportOnce(sink)
		}
	}
}
