package domain

import "time"

// Lease — именованная запись аренды в координационном хранилище.
//
// Lease — примитив leader election: узел, чей HolderIdentity записан
// в валидной аренде, считается лидером кластера.
//
// Аренда валидна, пока now < RenewTime + LeaseDuration.
// Продлевать аренду может только текущий держатель;
// чужой узел может забрать только невалидную (истёкшую или пустую) аренду.
type Lease struct {
	// Name — имя ресурса аренды (например, "quorum-leader").
	Name string `json:"name"`

	// Namespace — пространство имён аренды.
	Namespace string `json:"namespace"`

	// HolderIdentity — идентификатор узла-держателя.
	// Пустая строка означает, что аренда освобождена.
	HolderIdentity string `json:"holder_identity"`

	// AcquireTime — время захвата аренды текущим держателем.
	AcquireTime time.Time `json:"acquire_time"`

	// RenewTime — время последнего продления.
	RenewTime time.Time `json:"renew_time"`

	// LeaseDuration — окно валидности, отсчитываемое от RenewTime.
	LeaseDuration time.Duration `json:"lease_duration"`

	// Transitions — количество смен держателя.
	Transitions int64 `json:"transitions"`

	// ResourceVersion — версия записи для optimistic concurrency.
	// Хранилище увеличивает её при каждой успешной записи.
	ResourceVersion int64 `json:"resource_version"`
}

// ExpiresAt возвращает момент истечения аренды.
func (l *Lease) ExpiresAt() time.Time {
	return l.RenewTime.Add(l.LeaseDuration)
}

// IsValid проверяет, удерживается ли аренда в момент now.
func (l *Lease) IsValid(now time.Time) bool {
	if l == nil || l.HolderIdentity == "" {
		return false
	}
	return now.Before(l.ExpiresAt())
}

// IsHeldBy проверяет, что аренда валидна и принадлежит identity.
func (l *Lease) IsHeldBy(identity string, now time.Time) bool {
	return l.IsValid(now) && l.HolderIdentity == identity
}

// LeaseDurationSeconds возвращает длительность аренды в секундах.
func (l *Lease) LeaseDurationSeconds() int {
	return int(l.LeaseDuration / time.Second)
}

// Clone возвращает копию аренды.
func (l *Lease) Clone() *Lease {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
