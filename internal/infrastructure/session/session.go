// Package session provides the anonymous per-process identity used to key
// document storage. The id is minted lazily on first use and kept for the
// lifetime of the process.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

type Provider struct {
	once sync.Once
	user domain.SessionUser
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) GetOrCreate(_ context.Context) (domain.SessionUser, error) {
	p.once.Do(func() {
		p.user = domain.SessionUser{ID: "anon-" + uuid.NewString()}
	})
	return p.user, nil
}
