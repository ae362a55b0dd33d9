// Package credentials resolves per-user API key pairs for exchanges and
// analysis providers. Resolution fails closed: any missing, inactive or
// undecryptable record is reported as a credential error.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/crypto"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/storage"
	"go.uber.org/zap"
)

// Credential is a decrypted key pair. It must not be logged or persisted.
type Credential struct {
	Service   string
	Label     string
	APIKey    string
	APISecret string
}

type Resolver interface {
	Resolve(ctx context.Context, userID, service, label string) (*Credential, error)
}

type userKey struct{}

// ContextWithUser attaches the user on whose behalf provider calls run.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKey{}).(string); ok {
		return v
	}
	return ""
}

// EncryptedStore keeps credentials sealed in the api_credentials collection.
// Record ids are derived from (user, service, label) so each triple has one
// record.
type EncryptedStore struct {
	store  storage.Store
	sealer *crypto.Sealer
	logger *zap.Logger
	now    func() time.Time
}

var _ Resolver = (*EncryptedStore)(nil)

func NewEncryptedStore(store storage.Store, sealer *crypto.Sealer, logger *zap.Logger) *EncryptedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncryptedStore{store: store, sealer: sealer, logger: logger, now: time.Now}
}

func recordID(userID, service, label string) string {
	name := strings.Join([]string{userID, normalize(service), normalize(label)}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func associated(userID, service, label string) string {
	return userID + "|" + normalize(service) + "|" + normalize(label)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Save seals and stores a key pair, replacing any previous one for the
// same service and label.
func (s *EncryptedStore) Save(ctx context.Context, userID string, req models.ExchangeCredentialRequest) (*models.ExchangeCredential, error) {
	if userID == "" {
		return nil, apperror.Validation("user id is required")
	}
	if strings.TrimSpace(req.Service) == "" || strings.TrimSpace(req.APIKey) == "" {
		return nil, apperror.Validation("service and api key are required")
	}
	label := req.Label
	if strings.TrimSpace(label) == "" {
		label = "default"
	}

	ad := associated(userID, req.Service, label)
	encKey, err := s.sealer.Seal(req.APIKey, ad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API key: %w", err)
	}
	encSecret, err := s.sealer.Seal(req.APISecret, ad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API secret: %w", err)
	}

	now := s.now().UTC()
	id := recordID(userID, req.Service, label)
	record := models.ExchangeCredential{
		ID:              id,
		UserID:          userID,
		Service:         normalize(req.Service),
		Label:           normalize(label),
		EncryptedKey:    encKey,
		EncryptedSecret: encSecret,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var existing models.ExchangeCredential
	if err := s.store.Get(ctx, storage.CollectionCredentials, id, &existing); err == nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.store.Upsert(ctx, storage.CollectionCredentials, id, userID, record); err != nil {
		return nil, err
	}
	s.logger.Info("Stored API credential",
		zap.String("user_id", userID),
		zap.String("service", record.Service),
		zap.String("label", record.Label),
		zap.String("key", crypto.MaskKey(req.APIKey)))
	return &record, nil
}

// Deactivate keeps the record but makes it unresolvable.
func (s *EncryptedStore) Deactivate(ctx context.Context, userID, service, label string) error {
	id := recordID(userID, service, label)
	var record models.ExchangeCredential
	if err := s.store.Get(ctx, storage.CollectionCredentials, id, &record); err != nil {
		if storage.IsNotFound(err) {
			return apperror.NotFound("credential %s/%s not found", service, label)
		}
		return err
	}
	record.IsActive = false
	record.UpdatedAt = s.now().UTC()
	return s.store.Upsert(ctx, storage.CollectionCredentials, id, userID, record)
}

func (s *EncryptedStore) Resolve(ctx context.Context, userID, service, label string) (*Credential, error) {
	if userID == "" {
		return nil, apperror.Credential(service, label, errors.New("no user in scope"))
	}

	var record models.ExchangeCredential
	if err := s.store.Get(ctx, storage.CollectionCredentials, recordID(userID, service, label), &record); err != nil {
		return nil, apperror.Credential(service, label, err)
	}
	if !record.IsActive {
		return nil, apperror.Credential(service, label, errors.New("credential is inactive"))
	}

	ad := associated(userID, service, label)
	key, err := s.sealer.Open(record.EncryptedKey, ad)
	if err != nil {
		s.logger.Warn("Credential decryption failed",
			zap.String("user_id", userID), zap.String("service", service), zap.Error(err))
		return nil, apperror.Credential(service, label, err)
	}
	secret, err := s.sealer.Open(record.EncryptedSecret, ad)
	if err != nil {
		s.logger.Warn("Credential decryption failed",
			zap.String("user_id", userID), zap.String("service", service), zap.Error(err))
		return nil, apperror.Credential(service, label, err)
	}

	now := s.now().UTC()
	record.LastUsedAt = &now
	if err := s.store.Upsert(ctx, storage.CollectionCredentials, record.ID, userID, record); err != nil {
		s.logger.Debug("Failed to stamp credential usage", zap.Error(err))
	}

	return &Credential{Service: record.Service, Label: record.Label, APIKey: key, APISecret: secret}, nil
}

// Static resolves from a fixed in-memory set regardless of user. It backs
// operator-wide provider keys and tests.
type Static map[string]Credential

func (s Static) Resolve(_ context.Context, _ string, service, label string) (*Credential, error) {
	c, ok := s[normalize(service)+"/"+normalize(label)]
	if !ok {
		return nil, apperror.Credential(service, label, errors.New("not configured"))
	}
	return &c, nil
}

// Set registers a key pair; blank keys are ignored.
func (s Static) Set(service, label, apiKey, apiSecret string) {
	if apiKey == "" {
		return
	}
	s[normalize(service)+"/"+normalize(label)] = Credential{
		Service:   normalize(service),
		Label:     normalize(label),
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, userID, service, label string) (*Credential, error) {
	var lastErr error = apperror.Credential(service, label, errors.New("no resolver"))
	for _, r := range c {
		cred, err := r.Resolve(ctx, userID, service, label)
		if err == nil {
			return cred, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
