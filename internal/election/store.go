package election

import (
	"context"

	"github.com/shaiso/Quorum/internal/domain"
)

// LeaseStore — хранилище координации с optimistic concurrency.
//
// Create и Replace возвращают сохранённую запись с новым ResourceVersion.
type LeaseStore interface {
	// Get возвращает lease или ErrLeaseNotFound.
	Get(ctx context.Context, namespace, name string) (*domain.Lease, error)

	// Create создаёт lease, если его ещё нет. Иначе ErrLeaseConflict.
	Create(ctx context.Context, lease *domain.Lease) (*domain.Lease, error)

	// Replace перезаписывает lease, если ResourceVersion совпадает
	// с хранимым. Иначе ErrLeaseConflict.
	Replace(ctx context.Context, lease *domain.Lease) (*domain.Lease, error)
}
