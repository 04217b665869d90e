package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Job — данные задачи. Kind определяет обработчик.
//
// Тип задачи должен быть структурой (не указателем) с json-тегами.
type Job interface {
	Kind() string
}

// Handler выполняет задачу типа T.
type Handler[T Job] func(ctx context.Context, job T) error

// payloadEnvelope — формат поля payload: {"t": тег типа, "d": данные}.
type payloadEnvelope struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d,omitempty"`
}

type kindEntry struct {
	kind   string
	tag    string
	typ    reflect.Type
	decode func(data json.RawMessage) (Job, error)
	handle func(ctx context.Context, job Job) error
}

// Registry — реестр kinds задач.
//
// Заполняется при старте узла и замораживается до начала потребления
// очередей: узел не должен получить задачу, которую не умеет выполнить.
type Registry struct {
	mu     sync.Mutex
	kinds  map[string]*kindEntry
	byType map[reflect.Type]*kindEntry
	frozen atomic.Bool
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		kinds:  make(map[string]*kindEntry),
		byType: make(map[reflect.Type]*kindEntry),
	}
}

// Register регистрирует обработчик kind, заданного типом T.
func Register[T Job](r *Registry, h Handler[T]) error {
	var zero T
	kind := zero.Kind()
	typ := reflect.TypeOf(zero)

	e := &kindEntry{
		kind: kind,
		tag:  typ.String(),
		typ:  typ,
		decode: func(data json.RawMessage) (Job, error) {
			var job T
			if len(data) == 0 {
				return job, nil
			}
			if err := json.Unmarshal(data, &job); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", kind, err)
			}
			return job, nil
		},
		handle: func(ctx context.Context, job Job) error {
			return h(ctx, job.(T))
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, ok := r.kinds[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}

	r.kinds[kind] = e
	r.byType[typ] = e
	return nil
}

// MustRegister как Register, но паникует при ошибке.
func MustRegister[T Job](r *Registry, h Handler[T]) {
	if err := Register(r, h); err != nil {
		panic(err)
	}
}

// Freeze запрещает дальнейшую регистрацию.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen сообщает, заморожен ли реестр.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Kinds возвращает зарегистрированные kinds.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// encode сериализует задачу в kind и payload.
func (r *Registry) encode(job Job) (string, []byte, error) {
	if job == nil {
		return "", nil, fmt.Errorf("%w: nil job", ErrUnknownKind)
	}

	e, ok := r.lookupType(reflect.TypeOf(job))
	if !ok {
		return "", nil, fmt.Errorf("%w: %s (%T)", ErrUnknownKind, job.Kind(), job)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", e.kind, err)
	}

	payload, err := json.Marshal(payloadEnvelope{Type: e.tag, Data: data})
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s envelope: %w", e.kind, err)
	}

	return e.kind, payload, nil
}

// Build создаёт задачу kind из JSON-данных.
// Используется API, где данные приходят уже сериализованными.
func (r *Registry) Build(kind string, data json.RawMessage) (Job, error) {
	e, ok := r.lookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return e.decode(data)
}

// decode восстанавливает задачу из строки хранилища.
func (r *Registry) decode(kind string, payload []byte) (Job, *kindEntry, error) {
	e, ok := r.lookupKind(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if len(payload) == 0 {
		job, err := e.decode(nil)
		return job, e, err
	}

	var env payloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("decode %s envelope: %w", kind, err)
	}
	if env.Type != e.tag {
		return nil, nil, fmt.Errorf("%w: kind %s expects %s, got %q", ErrPayloadType, kind, e.tag, env.Type)
	}

	job, err := e.decode(env.Data)
	if err != nil {
		return nil, nil, err
	}
	return job, e, nil
}

func (r *Registry) lookupKind(kind string) (*kindEntry, bool) {
	if r.frozen.Load() {
		e, ok := r.kinds[kind]
		return e, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.kinds[kind]
	return e, ok
}

func (r *Registry) lookupType(typ reflect.Type) (*kindEntry, bool) {
	if r.frozen.Load() {
		e, ok := r.byType[typ]
		return e, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byType[typ]
	return e, ok
}

// PayloadData извлекает данные задачи из сохранённого payload,
// без проверки kind. Пустой payload даёт nil.
func PayloadData(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Data, nil
}
