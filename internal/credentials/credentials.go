// Package credentials resolves and validates per-site credential
// bundles for both upstream systems. Resolution is structural only:
// no network call happens here, so a valid Context can still be
// rejected by an upstream later.
package credentials

import (
	"errors"
	"strings"

	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/domain"
)

// ServiceName is the keyring service all secrets are stored under.
const ServiceName = "sitewatch"

// ErrSecretNotFound indicates a keyring reference with no stored value.
var ErrSecretNotFound = errors.New("secret not found")

// keyringPrefix marks a credential value as a keyring reference rather
// than a literal: "keyring:site1-ncp-secret".
const keyringPrefix = "keyring:"

// Store resolves secret references. The default is backed by the OS
// keychain; tests use the in-memory mock.
type Store interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	DeleteSecret(key string) error
}

// Context is the opaque, validated credential material for one site,
// usable by both upstream clients.
type Context struct {
	SiteID string

	// Origin platform (identity + inventory).
	KTUsername string
	KTPassword string

	// Insight service (signed metric queries).
	AccessKey string
	SecretKey string
	CWKey     string
}

// Resolve builds a Context from a site's raw credential configuration.
// Keyring references are resolved through store; any missing required
// field fails with a CredentialError rather than silently proceeding
// with partial credentials. Origin-platform credentials are required
// only when the site uses server discovery.
func Resolve(site config.SiteConfig, store Store) (*Context, error) {
	ctx := &Context{SiteID: site.ID}

	fields := []struct {
		name     string
		raw      string
		dst      *string
		required bool
	}{
		{"ncp.access_key", site.NCP.AccessKey, &ctx.AccessKey, true},
		{"ncp.secret_key", site.NCP.SecretKey, &ctx.SecretKey, true},
		{"ncp.cw_key", site.NCP.CWKey, &ctx.CWKey, true},
		{"kt.username", site.KT.Username, &ctx.KTUsername, site.Discover},
		{"kt.password", site.KT.Password, &ctx.KTPassword, site.Discover},
	}

	for _, f := range fields {
		value, err := resolveValue(f.raw, store)
		if err != nil {
			return nil, &domain.CredentialError{SiteID: site.ID, Field: f.name, Reason: err.Error()}
		}
		if f.required && value == "" {
			return nil, &domain.CredentialError{SiteID: site.ID, Field: f.name, Reason: "missing required credential"}
		}
		*f.dst = value
	}

	return ctx, nil
}

func resolveValue(raw string, store Store) (string, error) {
	value := strings.TrimSpace(raw)
	if !strings.HasPrefix(value, keyringPrefix) {
		return value, nil
	}

	key := strings.TrimPrefix(value, keyringPrefix)
	if key == "" {
		return "", errors.New("empty keyring reference")
	}
	if store == nil {
		return "", errors.New("keyring reference with no secret store")
	}
	return store.GetSecret(key)
}
