package credstore

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/trustkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/trustkeeper/internal/cryptox"
)

// SQLiteStore keeps the token AES-GCM sealed in the local metadata table.
// The database file lives in a 0700 directory with 0600 permissions.
type SQLiteStore struct {
	mu    sync.Mutex
	repo  metadata.Repository
	vault *cryptox.Vault
	key   string
}

func NewSQLiteStore(repo metadata.Repository, vault *cryptox.Vault) *SQLiteStore {
	return &SQLiteStore{repo: repo, vault: vault, key: metadata.KeyDeviceBinding}
}

func (s *SQLiteStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.vault.Seal([]byte(token), []byte(s.key))
	if err != nil {
		return storageErr("seal", err)
	}
	if err := s.repo.Set(ctx, s.key, sealed); err != nil {
		return storageErr("save", err)
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.repo.Get(ctx, s.key)
	if err != nil {
		return "", false, storageErr("read", err)
	}
	if sealed == nil {
		return "", false, nil
	}

	plain, err := s.vault.Open(sealed, []byte(s.key))
	if err != nil {
		return "", false, storageErr("open", err)
	}
	return string(plain), true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.key); err != nil {
		return storageErr("clear", err)
	}
	return nil
}
