package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Quorum/internal/domain"
)

// LeaseRepo — хранилище lease в PostgreSQL (таблица leases).
//
// Запись меняется только при совпадении resource_version,
// сравнение и запись выполняются одним UPDATE.
type LeaseRepo struct {
	pool *pgxpool.Pool
}

// NewLeaseRepo создаёт новый LeaseRepo.
func NewLeaseRepo(pool *pgxpool.Pool) *LeaseRepo {
	return &LeaseRepo{pool: pool}
}

const leaseColumns = `namespace, name, holder_identity, acquire_time, renew_time,
		       lease_duration_ms, transitions, resource_version`

// Get возвращает lease.
func (r *LeaseRepo) Get(ctx context.Context, namespace, name string) (*domain.Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE namespace = $1 AND name = $2
	`
	lease, err := scanLease(r.pool.QueryRow(ctx, query, namespace, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, domain.ErrLeaseNotFound)
		}
		return nil, fmt.Errorf("select lease: %w", err)
	}
	return lease, nil
}

// Create вставляет lease, если его ещё нет.
func (r *LeaseRepo) Create(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	query := `
		INSERT INTO leases (namespace, name, holder_identity, acquire_time, renew_time,
		                    lease_duration_ms, transitions, resource_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (namespace, name) DO NOTHING
		RETURNING ` + leaseColumns

	created, err := scanLease(r.pool.QueryRow(ctx, query,
		lease.Namespace,
		lease.Name,
		lease.HolderIdentity,
		lease.AcquireTime,
		lease.RenewTime,
		lease.LeaseDuration.Milliseconds(),
		lease.Transitions,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, domain.ErrLeaseConflict)
		}
		return nil, fmt.Errorf("insert lease: %w", err)
	}
	return created, nil
}

// Replace перезаписывает lease, если resource_version не изменился.
func (r *LeaseRepo) Replace(ctx context.Context, lease *domain.Lease) (*domain.Lease, error) {
	query := `
		UPDATE leases
		SET holder_identity   = $3,
		    acquire_time      = $4,
		    renew_time        = $5,
		    lease_duration_ms = $6,
		    transitions       = $7,
		    resource_version  = resource_version + 1
		WHERE namespace = $1 AND name = $2 AND resource_version = $8
		RETURNING ` + leaseColumns

	updated, err := scanLease(r.pool.QueryRow(ctx, query,
		lease.Namespace,
		lease.Name,
		lease.HolderIdentity,
		lease.AcquireTime,
		lease.RenewTime,
		lease.LeaseDuration.Milliseconds(),
		lease.Transitions,
		lease.ResourceVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, domain.ErrLeaseConflict)
		}
		return nil, fmt.Errorf("update lease: %w", err)
	}
	return updated, nil
}

func scanLease(row pgx.Row) (*domain.Lease, error) {
	var (
		lease      domain.Lease
		durationMs int64
	)
	err := row.Scan(
		&lease.Namespace,
		&lease.Name,
		&lease.HolderIdentity,
		&lease.AcquireTime,
		&lease.RenewTime,
		&durationMs,
		&lease.Transitions,
		&lease.ResourceVersion,
	)
	if err != nil {
		return nil, err
	}
	lease.LeaseDuration = time.Duration(durationMs) * time.Millisecond
	return &lease, nil
}
