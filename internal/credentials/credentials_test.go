package credentials

import (
	"context"
	"testing"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/crypto"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*EncryptedStore, storage.Store) {
	t.Helper()
	sealer, err := crypto.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	backing := storage.NewMemoryStore()
	return NewEncryptedStore(backing, sealer, nil), backing
}

func TestEncryptedStore_SaveAndResolve(t *testing.T) {
	s, backing := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Save(ctx, "u1", models.ExchangeCredentialRequest{
		Service: "Binance", Label: "main", APIKey: "key-123456", APISecret: "secret-abc",
	})
	require.NoError(t, err)
	assert.NotContains(t, rec.EncryptedKey, "key-123456")

	var stored models.ExchangeCredential
	require.NoError(t, backing.Get(ctx, storage.CollectionCredentials, rec.ID, &stored))
	assert.NotEqual(t, "secret-abc", stored.EncryptedSecret)

	cred, err := s.Resolve(ctx, "u1", "binance", "MAIN")
	require.NoError(t, err)
	assert.Equal(t, "key-123456", cred.APIKey)
	assert.Equal(t, "secret-abc", cred.APISecret)
}

func TestEncryptedStore_FailsClosed(t *testing.T) {
	s, backing := newTestStore(t)
	ctx := context.Background()

	_, err := s.Resolve(ctx, "u1", "binance", "main")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential), "missing record")

	_, err = s.Resolve(ctx, "", "binance", "main")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential), "no user")

	rec, err := s.Save(ctx, "u1", models.ExchangeCredentialRequest{Service: "binance", Label: "main", APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	// A sealed value moved to another user's record must not open.
	other, err := s.Save(ctx, "u2", models.ExchangeCredentialRequest{Service: "binance", Label: "main", APIKey: "k2", APISecret: "s2"})
	require.NoError(t, err)
	other.EncryptedKey = rec.EncryptedKey
	require.NoError(t, backing.Upsert(ctx, storage.CollectionCredentials, other.ID, "u2", other))

	_, err = s.Resolve(ctx, "u2", "binance", "main")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential))

	require.NoError(t, s.Deactivate(ctx, "u1", "binance", "main"))
	_, err = s.Resolve(ctx, "u1", "binance", "main")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential), "inactive")
}

func TestEncryptedStore_SaveValidation(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Save(context.Background(), "u1", models.ExchangeCredentialRequest{Service: "binance"})
	assert.True(t, apperror.HasKind(err, apperror.KindValidation))
}

func TestChainAndStatic(t *testing.T) {
	s, _ := newTestStore(t)
	chain := Chain{s, Static{"cryptopanic/default": {Service: "cryptopanic", Label: "default", APIKey: "op-key"}}}

	cred, err := chain.Resolve(context.Background(), "u1", "CryptoPanic", "default")
	require.NoError(t, err)
	assert.Equal(t, "op-key", cred.APIKey)

	_, err = chain.Resolve(context.Background(), "u1", "glassnode", "default")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential))
}

func TestStaticSet(t *testing.T) {
	s := Static{}
	s.Set(" Binance ", "Default", "k", "s")
	s.Set("glassnode", "default", "", "")

	cred, err := s.Resolve(context.Background(), "anyone", "binance", "default")
	require.NoError(t, err)
	assert.Equal(t, "k", cred.APIKey)
	assert.Equal(t, "s", cred.APISecret)
	assert.Len(t, s, 1)
}

func TestUserContext(t *testing.T) {
	assert.Equal(t, "", UserFromContext(context.Background()))
	assert.Equal(t, "u9", UserFromContext(ContextWithUser(context.Background(), "u9")))
}
