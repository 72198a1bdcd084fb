// Package scheduler — фоновое выполнение задач обслуживания репозиториев:
// пул воркеров с ограниченной очередью, блокировки по имени репозитория,
// периодическая генерация индексов и очистка по политике хранения.
//
// Каждая задача выполняется с фиксированным системным принципалом в context.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
)

var (
	// ErrQueueFull — очередь пула заполнена, задача не принята.
	ErrQueueFull = errors.New("очередь задач заполнена")
	// ErrPoolStopped — пул остановлен, задачи не принимаются.
	ErrPoolStopped = errors.New("пул задач остановлен")
)

var poolJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ym_scheduler_jobs_total",
	Help: "Количество задач планировщика по результату",
}, []string{"result"}) // result: done, panic, dropped

// job — задача пула.
type job struct {
	name    string
	release func()
	fn      func(ctx context.Context)
}

// Pool — пул воркеров фиксированного размера с ограниченной очередью.
// Submit никогда не блокируется.
type Pool struct {
	jobs      chan job
	size      int
	principal rbac.Principal
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
	active atomic.Int32

	mu      sync.RWMutex
	stopped bool
}

// NewPool создаёт пул и запускает воркеры.
// principal передаётся в context каждой задачи.
func NewPool(size, queueSize int, principal rbac.Principal, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:      make(chan job, queueSize),
		size:      size,
		principal: principal,
		logger:    logger.With(slog.String("component", "scheduler_pool")),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}

	p.wg.Add(size)
	for range size {
		go p.worker()
	}

	p.logger.Info("Пул задач запущен",
		slog.Int("pool_size", size),
		slog.Int("queue_size", queueSize),
		slog.String("principal", principal.Name()),
	)
	return p
}

// Submit ставит задачу в очередь. Если задача не принята (ErrQueueFull,
// ErrPoolStopped), release не вызывается — это ответственность вызывающего.
// Для принятой задачи release вызывается после её выполнения или при
// отбрасывании из очереди во время остановки.
func (p *Pool) Submit(name string, release func(), fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job{name: name, release: release, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			select {
			case <-p.quit:
				p.drop(j)
				return
			default:
			}
			p.run(j)
		}
	}
}

// run выполняет задачу с системным принципалом и восстановлением после паники.
func (p *Pool) run(j job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	if j.release != nil {
		defer j.release()
	}
	defer func() {
		if r := recover(); r != nil {
			poolJobsTotal.WithLabelValues("panic").Inc()
			p.logger.Error("Паника в задаче планировщика",
				slog.String("job", j.name),
				slog.Any("panic", r),
			)
		}
	}()

	j.fn(rbac.WithPrincipal(p.ctx, p.principal))
	poolJobsTotal.WithLabelValues("done").Inc()
}

func (p *Pool) drop(j job) {
	poolJobsTotal.WithLabelValues("dropped").Inc()
	p.logger.Debug("Задача отброшена при остановке", slog.String("job", j.name))
	if j.release != nil {
		j.release()
	}
}

// Stop прекращает приём задач, отбрасывает задачи из очереди и ждёт
// завершения выполняющихся. Если ctx завершается раньше, context задач
// отменяется и Stop дожидается их выхода.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	dropped := 0
drain:
	for {
		select {
		case j := <-p.jobs:
			p.drop(j)
			dropped++
		default:
			break drain
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("Таймаут ожидания задач, выполнение прерывается",
			slog.Int("active", p.ActiveCount()),
		)
		p.cancel()
		<-done
	}
	p.cancel()

	p.logger.Info("Пул задач остановлен", slog.Int("dropped", dropped))
	return err
}

// QueueSize возвращает количество задач в очереди.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// PoolSize возвращает количество воркеров.
func (p *Pool) PoolSize() int {
	return p.size
}

// ActiveCount возвращает количество выполняющихся задач.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}
