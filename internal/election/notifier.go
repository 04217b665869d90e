package election

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

type eventKind int

const (
	eventStartedLeading eventKind = iota
	eventStoppedLeading
	eventNewLeader
)

func (k eventKind) String() string {
	switch k {
	case eventStartedLeading:
		return "started_leading"
	case eventStoppedLeading:
		return "stopped_leading"
	default:
		return "new_leader"
	}
}

type event struct {
	kind     eventKind
	ctx      context.Context
	identity string
}

// lane — упорядоченная очередь событий со своей горутиной доставки.
// Очередь не ограничена, поэтому push никогда не блокирует цикл выборов.
type lane struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	signal chan struct{}
}

func newLane() *lane {
	return &lane{signal: make(chan struct{}, 1)}
}

func (l *lane) push(ev event) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	l.wake()
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.wake()
}

func (l *lane) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *lane) pop() (event, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return event{}, false, l.closed
	}
	ev := l.queue[0]
	l.queue[0] = event{}
	l.queue = l.queue[1:]
	return ev, true, false
}

// run доставляет события по одному, пока очередь не закрыта и не пуста.
func (l *lane) run(deliver func(event)) {
	for {
		ev, ok, closed := l.pop()
		if closed {
			return
		}
		if !ok {
			<-l.signal
			continue
		}
		deliver(ev)
	}
}

// notifier доставляет события callbacks.
//
// Start и stop идут по одной очереди, new_leader — по отдельной,
// так что долгий callback одного вида не задерживает другой.
// Callbacks начала лидерства не ожидаются сразу: они могут жить
// до отмены ctx. Stop ждёт их завершения, поэтому callbacks stop
// всегда запускаются после возврата callbacks start того же срока.
type notifier struct {
	logger *slog.Logger

	leadership *lane
	observers  *lane

	// starts — callbacks start текущего срока лидерства.
	// Трогается только горутиной leadership.
	starts sync.WaitGroup

	cbMu        sync.RWMutex
	onStart     []func(ctx context.Context)
	onStop      []func(ctx context.Context)
	onNewLeader []func(ctx context.Context, identity string)
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{
		logger:     logger,
		leadership: newLane(),
		observers:  newLane(),
	}
}

func (n *notifier) push(ev event) {
	if ev.kind == eventNewLeader {
		n.observers.push(ev)
		return
	}
	n.leadership.push(ev)
}

// close закрывает очереди. run доставит оставшиеся события и выйдет.
func (n *notifier) close() {
	n.leadership.close()
	n.observers.close()
}

// run блокирует, пока обе очереди не будут закрыты и доставлены.
func (n *notifier) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.leadership.run(n.deliverLeadership)
		n.starts.Wait()
	}()
	go func() {
		defer wg.Done()
		n.observers.run(n.deliverNewLeader)
	}()
	wg.Wait()
}

func (n *notifier) deliverLeadership(ev event) {
	n.cbMu.RLock()
	var fns []func(ctx context.Context)
	if ev.kind == eventStartedLeading {
		fns = append(fns, n.onStart...)
	} else {
		fns = append(fns, n.onStop...)
	}
	n.cbMu.RUnlock()

	if ev.kind == eventStartedLeading {
		for _, fn := range fns {
			n.spawn(&n.starts, ev.kind, func() { fn(ev.ctx) })
		}
		return
	}

	// ctx start уже отменён: ждём, пока callbacks start вернутся
	n.starts.Wait()

	var wg sync.WaitGroup
	for _, fn := range fns {
		n.spawn(&wg, ev.kind, func() { fn(ev.ctx) })
	}
	wg.Wait()
}

func (n *notifier) deliverNewLeader(ev event) {
	n.cbMu.RLock()
	fns := append([]func(ctx context.Context, identity string){}, n.onNewLeader...)
	n.cbMu.RUnlock()

	var wg sync.WaitGroup
	for _, fn := range fns {
		n.spawn(&wg, ev.kind, func() { fn(ev.ctx, ev.identity) })
	}
	wg.Wait()
}

// spawn запускает callback в отдельной горутине; паника логируется
// и не затрагивает остальные callbacks.
func (n *notifier) spawn(wg *sync.WaitGroup, kind eventKind, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("leader election callback panicked",
					"event", kind.String(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
