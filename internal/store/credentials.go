package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"tokenrelay/pkg/logging"
	"tokenrelay/pkg/oauth"
)

// Collection names of the persisted layout.
const (
	CollectionConfig = "config"
	CollectionTokens = "token_store"
	CollectionMeta   = "meta"
)

// SchemaVersion is the layout version written to the meta collection.
const SchemaVersion = 1

const schemaVersionKey = "schema_version"

// Token record sub-key suffixes.
const (
	suffixAccessToken  = "#access_token"
	suffixRefreshToken = "#refresh_token"
	suffixExpiry       = "#expiry"
)

// expiryEntry is the value stored under the #expiry sub-key.
type expiryEntry struct {
	ExpiresIn int64  `json:"expires_in"`
	IssuedAt  int64  `json:"issued_at"`
	TokenType string `json:"token_type,omitempty"`
}

// CredentialStore provides typed access to resource configs and token
// records on top of a Store.
type CredentialStore struct {
	store Store
}

// NewCredentialStore wraps s and makes sure the schema version is recorded.
// A store written by a newer layout version is rejected.
func NewCredentialStore(ctx context.Context, s Store) (*CredentialStore, error) {
	err := s.WithTransaction(ctx, CollectionMeta, func(tx Tx) error {
		raw, err := tx.Get(schemaVersionKey)
		if errors.Is(err, ErrNotFound) {
			return tx.Put(schemaVersionKey, []byte(strconv.Itoa(SchemaVersion)))
		}
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return storageErr("open", CollectionMeta, fmt.Errorf("invalid schema version %q", raw))
		}
		if v > SchemaVersion {
			return storageErr("open", CollectionMeta, fmt.Errorf("schema version %d is newer than supported version %d", v, SchemaVersion))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CredentialStore{store: s}, nil
}

// Store returns the underlying key-value store.
func (c *CredentialStore) Store() Store {
	return c.store
}

// PutResourceConfig registers cfg verbatim, replacing any config with the same token endpoint.
func (c *CredentialStore) PutResourceConfig(ctx context.Context, cfg *oauth.ResourceConfig) error {
	if cfg == nil || cfg.TokenEndpoint == "" {
		return errors.New("resource config requires a token endpoint")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal resource config: %w", err)
	}
	return c.store.Put(ctx, CollectionConfig, cfg.TokenEndpoint, data)
}

// ResourceConfig returns the config registered for tokenEndpoint, or ErrNotFound.
func (c *CredentialStore) ResourceConfig(ctx context.Context, tokenEndpoint string) (*oauth.ResourceConfig, error) {
	data, err := c.store.Get(ctx, CollectionConfig, tokenEndpoint)
	if err != nil {
		return nil, err
	}
	var cfg oauth.ResourceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, storageErr("get", CollectionConfig, fmt.Errorf("corrupt resource config: %w", err))
	}
	return &cfg, nil
}

// ResourceConfigs returns every registered config ordered by token endpoint.
// Unreadable entries are skipped.
func (c *CredentialStore) ResourceConfigs(ctx context.Context) ([]*oauth.ResourceConfig, error) {
	seq, err := c.store.Iterate(ctx, CollectionConfig)
	if err != nil {
		return nil, err
	}
	var configs []*oauth.ResourceConfig
	for key, data := range seq {
		var cfg oauth.ResourceConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			logging.Warn("Store", "Skipping unreadable resource config %s: %v", key, err)
			continue
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}

// MatchResource returns the config whose resource server is the longest
// prefix of rawURL, or nil when none matches.
func (c *CredentialStore) MatchResource(ctx context.Context, rawURL string) (*oauth.ResourceConfig, error) {
	configs, err := c.ResourceConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var best *oauth.ResourceConfig
	for _, cfg := range configs {
		if cfg.Matches(rawURL) && (best == nil || len(cfg.ResourceServer) > len(best.ResourceServer)) {
			best = cfg
		}
	}
	return best, nil
}

// DeleteResourceConfig removes the config registered for tokenEndpoint.
func (c *CredentialStore) DeleteResourceConfig(ctx context.Context, tokenEndpoint string) error {
	return c.store.Delete(ctx, CollectionConfig, tokenEndpoint)
}

// TokenRecord reads the record for resourceServer. It returns nil, nil when
// no token has been stored.
func (c *CredentialStore) TokenRecord(ctx context.Context, resourceServer string) (*oauth.TokenRecord, error) {
	var rec *oauth.TokenRecord
	err := c.store.WithTransaction(ctx, CollectionTokens, func(tx Tx) error {
		access, err := getOptional(tx, resourceServer+suffixAccessToken)
		if err != nil {
			return err
		}
		refresh, err := getOptional(tx, resourceServer+suffixRefreshToken)
		if err != nil {
			return err
		}
		expiryRaw, err := getOptional(tx, resourceServer+suffixExpiry)
		if err != nil {
			return err
		}
		if access == nil && refresh == nil && expiryRaw == nil {
			return nil
		}

		rec = &oauth.TokenRecord{
			AccessToken:  string(access),
			RefreshToken: string(refresh),
		}
		if expiryRaw != nil {
			var e expiryEntry
			if err := json.Unmarshal(expiryRaw, &e); err != nil {
				return storageErr("get", CollectionTokens, fmt.Errorf("corrupt expiry entry: %w", err))
			}
			rec.ExpiresIn = e.ExpiresIn
			rec.IssuedAt = e.IssuedAt
			rec.TokenType = e.TokenType
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getOptional(tx Tx, key string) ([]byte, error) {
	v, err := tx.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// PutTokenRecord writes every sub-key of rec in one transaction.
func (c *CredentialStore) PutTokenRecord(ctx context.Context, resourceServer string, rec *oauth.TokenRecord) error {
	expiry, err := marshalExpiry(rec)
	if err != nil {
		return err
	}

	err = c.store.WithTransaction(ctx, CollectionTokens, func(tx Tx) error {
		return putRecord(tx, resourceServer, rec, expiry)
	})
	if err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "token_stored", Outcome: "success", Target: resourceServer})
	return nil
}

// SwapTokenRecord writes rec only if the stored refresh token still equals
// expectedRefresh. Otherwise nothing is written and ErrTokenRecordChanged is
// returned. The check and the write happen in one transaction.
func (c *CredentialStore) SwapTokenRecord(ctx context.Context, resourceServer, expectedRefresh string, rec *oauth.TokenRecord) error {
	expiry, err := marshalExpiry(rec)
	if err != nil {
		return err
	}

	err = c.store.WithTransaction(ctx, CollectionTokens, func(tx Tx) error {
		stored, err := getOptional(tx, resourceServer+suffixRefreshToken)
		if err != nil {
			return err
		}
		if stored == nil || string(stored) != expectedRefresh {
			return ErrTokenRecordChanged
		}
		return putRecord(tx, resourceServer, rec, expiry)
	})
	if err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "token_stored", Outcome: "success", Target: resourceServer})
	return nil
}

func marshalExpiry(rec *oauth.TokenRecord) ([]byte, error) {
	expiry, err := json.Marshal(expiryEntry{
		ExpiresIn: rec.ExpiresIn,
		IssuedAt:  rec.IssuedAt,
		TokenType: rec.TokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expiry: %w", err)
	}
	return expiry, nil
}

func putRecord(tx Tx, resourceServer string, rec *oauth.TokenRecord, expiry []byte) error {
	if err := tx.Put(resourceServer+suffixAccessToken, []byte(rec.AccessToken)); err != nil {
		return err
	}
	if rec.RefreshToken != "" {
		if err := tx.Put(resourceServer+suffixRefreshToken, []byte(rec.RefreshToken)); err != nil {
			return err
		}
	} else if err := tx.Delete(resourceServer + suffixRefreshToken); err != nil {
		return err
	}
	return tx.Put(resourceServer+suffixExpiry, expiry)
}

// ClearTokenRecord deletes every sub-key of the record for resourceServer.
func (c *CredentialStore) ClearTokenRecord(ctx context.Context, resourceServer string) error {
	err := c.store.WithTransaction(ctx, CollectionTokens, func(tx Tx) error {
		for _, suffix := range []string{suffixAccessToken, suffixRefreshToken, suffixExpiry} {
			if err := tx.Delete(resourceServer + suffix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "token_cleared", Outcome: "success", Target: resourceServer})
	return nil
}

// ClearResource deletes the token record and every config registered for resourceServer.
func (c *CredentialStore) ClearResource(ctx context.Context, resourceServer string) error {
	if err := c.ClearTokenRecord(ctx, resourceServer); err != nil {
		return err
	}
	configs, err := c.ResourceConfigs(ctx)
	if err != nil {
		return err
	}
	return c.store.WithTransaction(ctx, CollectionConfig, func(tx Tx) error {
		for _, cfg := range configs {
			if cfg.ResourceServer == resourceServer {
				if err := tx.Delete(cfg.TokenEndpoint); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
