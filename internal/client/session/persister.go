package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/trustkeeper/internal/cryptox"
	"github.com/dmitrijs2005/trustkeeper/internal/dbx"
)

// MetadataPersister keeps the session in the local metadata table. The token
// is sealed; token and identity are written in one transaction.
type MetadataPersister struct {
	db    *sql.DB
	vault *cryptox.Vault
}

func NewMetadataPersister(db *sql.DB, vault *cryptox.Vault) *MetadataPersister {
	return &MetadataPersister{db: db, vault: vault}
}

func (p *MetadataPersister) Load(ctx context.Context) (*Session, error) {
	repo := metadata.NewSQLiteRepository(p.db)

	sealed, err := repo.Get(ctx, metadata.KeySessionToken)
	if err != nil || sealed == nil {
		return nil, err
	}
	identity, err := repo.Get(ctx, metadata.KeySessionIdentity)
	if err != nil {
		return nil, err
	}

	token, err := p.vault.Open(sealed, []byte(metadata.KeySessionToken))
	if err != nil {
		return nil, err
	}

	s := &Session{Token: string(token), Identity: string(identity)}
	if c, err := ParseClaims(s.Token); err == nil {
		s.ExpiresAt = c.ExpiresAt
	}
	return s, nil
}

func (p *MetadataPersister) Save(ctx context.Context, s Session) error {
	sealed, err := p.vault.Seal([]byte(s.Token), []byte(metadata.KeySessionToken))
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Set(ctx, metadata.KeySessionToken, sealed); err != nil {
			return err
		}
		return repo.Set(ctx, metadata.KeySessionIdentity, []byte(s.Identity))
	})
}

func (p *MetadataPersister) Clear(ctx context.Context) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).DeletePrefix(ctx, "session.")
	})
}

// ExpiresIn is a helper for display: time left on s, or 0 when unknown or
// already expired.
func ExpiresIn(s Session, now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
