package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// MessageID — идентификатор типа широковещательного сообщения.
type MessageID uint16

// Envelope — конверт широковещательного сообщения.
type Envelope struct {
	ID   MessageID       `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Handler — обработчик сообщения типа T.
type Handler[T any] func(ctx context.Context, msg T) error

type entry struct {
	name     string
	typ      reflect.Type
	dispatch func(ctx context.Context, data json.RawMessage) error
}

// Registry — реестр типов сообщений и их обработчиков.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[MessageID]*entry
	byType  map[reflect.Type]MessageID
	frozen  atomic.Bool
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[MessageID]*entry),
		byType:  make(map[reflect.Type]MessageID),
	}
}

// Register регистрирует тип сообщения T под id вместе с обработчиком.
// name используется в логах и метриках.
func Register[T any](r *Registry, id MessageID, name string, h Handler[T]) error {
	if r.frozen.Load() {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, name)
	}
	if existing, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateID, id, existing.name)
	}

	typ := reflect.TypeFor[T]()
	r.entries[id] = &entry{
		name: name,
		typ:  typ,
		dispatch: func(ctx context.Context, data json.RawMessage) error {
			var msg T
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			return h(ctx, msg)
		},
	}
	r.byType[typ] = id
	return nil
}

// MustRegister — Register, паникующий при ошибке. Для кода инициализации.
func MustRegister[T any](r *Registry, id MessageID, name string, h Handler[T]) {
	if err := Register(r, id, name, h); err != nil {
		panic(err)
	}
}

// Freeze закрывает реестр для регистрации. Повторный вызов безопасен.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Swap(true) {
		return
	}
	r.logger.Debug("broadcast registry frozen", "messages", len(r.entries))
}

// Frozen сообщает, заморожен ли реестр.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Encode упаковывает msg в конверт по зарегистрированному типу.
func (r *Registry) Encode(msg any) (Envelope, error) {
	if !r.frozen.Load() {
		return Envelope{}, ErrRegistryOpen
	}

	typ := reflect.TypeOf(msg)
	id, ok := r.byType[typ]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: type %s", ErrUnknownMessage, typ)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}

	return Envelope{ID: id, Data: data}, nil
}

// Name возвращает имя типа сообщения по id.
func (r *Registry) Name(id MessageID) string {
	if e, ok := r.lookup(id); ok {
		return e.name
	}
	return "unknown"
}

// Dispatch декодирует конверт и вызывает обработчик.
//
// Ошибки декодирования и обработчика возвращаются вызывающему;
// паника обработчика перехватывается и превращается в ошибку.
func (r *Registry) Dispatch(ctx context.Context, env Envelope) (err error) {
	if !r.frozen.Load() {
		return ErrRegistryOpen
	}

	e, ok := r.lookup(env.ID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMessage, env.ID)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("broadcast handler %s panicked: %v", e.name, p)
		}
	}()

	return e.dispatch(ctx, env.Data)
}

// lookup читает запись без блокировки: после Freeze карта неизменна.
func (r *Registry) lookup(id MessageID) (*entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Len возвращает количество зарегистрированных типов.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
