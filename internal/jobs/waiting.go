package jobs

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Quorum/internal/bus"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// waitingEntry — задача, взведённая на этом узле.
//
// Запись в карте означает, что узел держит неподтверждённый анонс
// и обязан либо выполнить задачу, либо явно освободить анонс.
// Указатель записи — её идентичность: CompareAndDelete и CompareAndSwap
// сравнивают именно его.
type waitingEntry struct {
	jobID       int64
	queue       string
	runAt       time.Time
	delivery    bus.Delivery
	redelivered bool

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newWaitingEntry(jobID int64, queue string, runAt time.Time, d bus.Delivery) *waitingEntry {
	return &waitingEntry{
		jobID:       jobID,
		queue:       queue,
		runAt:       runAt,
		delivery:    d,
		redelivered: d.Redelivered(),
	}
}

// withRunAt возвращает новую запись с тем же анонсом.
func (e *waitingEntry) withRunAt(runAt time.Time) *waitingEntry {
	return &waitingEntry{
		jobID:       e.jobID,
		queue:       e.queue,
		runAt:       runAt,
		delivery:    e.delivery,
		redelivered: e.redelivered,
	}
}

// arm взводит таймер. Остановленную запись не взводит.
func (e *waitingEntry) arm(d time.Duration, fire func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.timer = time.AfterFunc(max(d, 0), fire)
}

// stop останавливает таймер. Если callback уже запущен, он не прерывается.
func (e *waitingEntry) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
}

// waitingJobs — карта jobID → *waitingEntry.
// Каждая мутация — одна атомарная операция sync.Map.
type waitingJobs struct {
	m     sync.Map
	count atomic.Int64
}

func (w *waitingJobs) updateGauge(delta int64) {
	telemetry.JobsWaiting.Set(float64(w.count.Add(delta)))
}

// swap ставит запись и возвращает вытесненную.
func (w *waitingJobs) swap(id int64, e *waitingEntry) (*waitingEntry, bool) {
	prev, loaded := w.m.Swap(id, e)
	if !loaded {
		w.updateGauge(1)
		return nil, false
	}
	return prev.(*waitingEntry), true
}

// putIfAbsent ставит запись, если для id записи нет.
func (w *waitingJobs) putIfAbsent(id int64, e *waitingEntry) bool {
	_, loaded := w.m.LoadOrStore(id, e)
	if !loaded {
		w.updateGauge(1)
	}
	return !loaded
}

// take удаляет и возвращает запись.
func (w *waitingJobs) take(id int64) (*waitingEntry, bool) {
	v, ok := w.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	w.updateGauge(-1)
	return v.(*waitingEntry), true
}

// commit удаляет запись, только если в карте всё ещё именно она.
func (w *waitingJobs) commit(id int64, e *waitingEntry) bool {
	if !w.m.CompareAndDelete(id, e) {
		return false
	}
	w.updateGauge(-1)
	return true
}

// replace заменяет old на next, только если в карте всё ещё old.
func (w *waitingJobs) replace(id int64, old, next *waitingEntry) bool {
	return w.m.CompareAndSwap(id, old, next)
}

func (w *waitingJobs) load(id int64) (*waitingEntry, bool) {
	v, ok := w.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*waitingEntry), true
}

// ids возвращает отсортированные ID ожидающих задач.
func (w *waitingJobs) ids() []int64 {
	var ids []int64
	w.m.Range(func(k, _ any) bool {
		ids = append(ids, k.(int64))
		return true
	})
	slices.Sort(ids)
	return ids
}

// drain удаляет все записи и возвращает их.
func (w *waitingJobs) drain() []*waitingEntry {
	var entries []*waitingEntry
	w.m.Range(func(k, _ any) bool {
		if e, ok := w.take(k.(int64)); ok {
			entries = append(entries, e)
		}
		return true
	})
	return entries
}
