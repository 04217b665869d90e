package config

import (
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NodeIDProvider строит идентификатор узла.
type NodeIDProvider interface {
	NodeID() (string, error)
}

// DefaultNodeIDProvider строит идентификатор из POD_UID, HOSTNAME или
// имени хоста и случайного суффикса. Значение стабильно в пределах процесса.
type DefaultNodeIDProvider struct {
	prefix    string
	addSuffix bool

	once sync.Once
	id   string
	err  error
}

// NodeIDOption настраивает DefaultNodeIDProvider.
type NodeIDOption func(*DefaultNodeIDProvider)

// WithNodePrefix задаёт префикс (кластер, регион).
func WithNodePrefix(prefix string) NodeIDOption {
	return func(p *DefaultNodeIDProvider) {
		p.prefix = prefix
	}
}

// WithoutRandomSuffix отключает случайный суффикс.
func WithoutRandomSuffix() NodeIDOption {
	return func(p *DefaultNodeIDProvider) {
		p.addSuffix = false
	}
}

// NewDefaultNodeIDProvider создаёт провайдер.
func NewDefaultNodeIDProvider(opts ...NodeIDOption) *DefaultNodeIDProvider {
	p := &DefaultNodeIDProvider{addSuffix: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NodeID возвращает идентификатор узла.
func (p *DefaultNodeIDProvider) NodeID() (string, error) {
	p.once.Do(func() {
		base := firstNonEmpty(
			os.Getenv("POD_UID"),
			os.Getenv("HOSTNAME"),
			readHostname(),
		)
		if base == "" {
			p.err = ErrNoNodeID
			return
		}

		var parts []string
		if p.prefix != "" {
			parts = append(parts, sanitize(p.prefix))
		}
		parts = append(parts, sanitize(base))
		if p.addSuffix {
			parts = append(parts, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		}
		p.id = strings.Join(parts, "-")
	})
	return p.id, p.err
}

// StaticNodeID — фиксированный идентификатор.
type StaticNodeID string

// NodeID реализует NodeIDProvider.
func (s StaticNodeID) NodeID() (string, error) {
	if s == "" {
		return "", ErrNoNodeID
	}
	return string(s), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func readHostname() string {
	h, _ := os.Hostname()
	return h
}

func sanitize(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
}
