package fakestore

import (
	"context"
	"sync"

	"github.com/shaiso/Quorum/internal/domain"
)

type leaseKey struct {
	namespace string
	name      string
}

// LeaseStore — хранилище lease в памяти с проверкой ResourceVersion.
type LeaseStore struct {
	mu      sync.Mutex
	leases  map[leaseKey]*domain.Lease
	version int64
	writes  int
}

// NewLeaseStore создаёт пустое хранилище.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[leaseKey]*domain.Lease)}
}

// Get возвращает копию lease.
func (s *LeaseStore) Get(ctx context.Context, namespace, name string) (*domain.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[leaseKey{namespace, name}]
	if !ok {
		return nil, domain.ErrLeaseNotFound
	}
	return l.Clone(), nil
}

// Create создаёт lease, если его нет.
func (s *LeaseStore) Create(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := leaseKey{lease.Namespace, lease.Name}
	if _, ok := s.leases[key]; ok {
		return nil, domain.ErrLeaseConflict
	}

	s.version++
	s.writes++
	stored := lease.Clone()
	stored.ResourceVersion = s.version
	s.leases[key] = stored

	return stored.Clone(), nil
}

// Replace перезаписывает lease при совпадении ResourceVersion.
func (s *LeaseStore) Replace(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := leaseKey{lease.Namespace, lease.Name}
	current, ok := s.leases[key]
	if !ok {
		return nil, domain.ErrLeaseNotFound
	}
	if current.ResourceVersion != lease.ResourceVersion {
		return nil, domain.ErrLeaseConflict
	}

	s.version++
	s.writes++
	stored := lease.Clone()
	stored.ResourceVersion = s.version
	s.leases[key] = stored

	return stored.Clone(), nil
}

// Put записывает lease без проверок (подготовка тестов).
func (s *LeaseStore) Put(lease *domain.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	stored := lease.Clone()
	stored.ResourceVersion = s.version
	s.leases[leaseKey{lease.Namespace, lease.Name}] = stored
}

// Writes возвращает количество успешных записей.
func (s *LeaseStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Client возвращает клиента хранилища для одного узла.
func (s *LeaseStore) Client() *LeaseClient {
	return &LeaseClient{store: s}
}

// LeaseClient — доступ узла к общему LeaseStore
// с возможностью имитировать отказ I/O.
type LeaseClient struct {
	store *LeaseStore

	mu   sync.Mutex
	fail error
}

// Fail включает отказ всех операций с ошибкой err. nil выключает отказ.
func (c *LeaseClient) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *LeaseClient) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

// Get читает lease.
func (c *LeaseClient) Get(ctx context.Context, namespace, name string) (*domain.Lease, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, namespace, name)
}

// Create создаёт lease.
func (c *LeaseClient) Create(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	return c.store.Create(ctx, lease)
}

// Replace перезаписывает lease.
func (c *LeaseClient) Replace(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	return c.store.Replace(ctx, lease)
}
