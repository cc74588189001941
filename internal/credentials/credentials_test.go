package credentials

import (
	"errors"
	"testing"

	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/domain"
)

func siteConfig() config.SiteConfig {
	return config.SiteConfig{
		ID: "acme-seoul",
		NCP: config.NCPCredentialConfig{
			AccessKey: "AK",
			SecretKey: "SK",
			CWKey:     "CW",
		},
	}
}

func TestResolve_Literals(t *testing.T) {
	ctx, err := Resolve(siteConfig(), nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if ctx.SiteID != "acme-seoul" {
		t.Errorf("SiteID = %q, want %q", ctx.SiteID, "acme-seoul")
	}
	if ctx.AccessKey != "AK" || ctx.SecretKey != "SK" || ctx.CWKey != "CW" {
		t.Errorf("resolved keys = %q/%q/%q, want AK/SK/CW", ctx.AccessKey, ctx.SecretKey, ctx.CWKey)
	}
}

func TestResolve_KeyringReference(t *testing.T) {
	store := NewMockStore()
	if err := store.SetSecret("seoul-secret", "resolved-value"); err != nil {
		t.Fatal(err)
	}

	site := siteConfig()
	site.NCP.SecretKey = "keyring:seoul-secret"

	ctx, err := Resolve(site, store)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ctx.SecretKey != "resolved-value" {
		t.Errorf("SecretKey = %q, want %q", ctx.SecretKey, "resolved-value")
	}
}

func TestResolve_MissingKeyringSecret(t *testing.T) {
	site := siteConfig()
	site.NCP.SecretKey = "keyring:never-stored"

	_, err := Resolve(site, NewMockStore())
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Resolve() error = %v, want CredentialError", err)
	}
	if credErr.SiteID != "acme-seoul" {
		t.Errorf("CredentialError.SiteID = %q, want %q", credErr.SiteID, "acme-seoul")
	}
	if credErr.Field != "ncp.secret_key" {
		t.Errorf("CredentialError.Field = %q, want %q", credErr.Field, "ncp.secret_key")
	}
}

func TestResolve_MissingRequiredField(t *testing.T) {
	site := siteConfig()
	site.NCP.CWKey = ""

	_, err := Resolve(site, nil)
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Resolve() error = %v, want CredentialError", err)
	}
	if credErr.Field != "ncp.cw_key" {
		t.Errorf("CredentialError.Field = %q, want %q", credErr.Field, "ncp.cw_key")
	}
}

// Origin-platform credentials only matter for sites that discover
// their inventory.
func TestResolve_PlatformCredentialsFollowDiscovery(t *testing.T) {
	site := siteConfig()
	if _, err := Resolve(site, nil); err != nil {
		t.Errorf("Resolve() without kt credentials error = %v, want nil", err)
	}

	site.Discover = true
	_, err := Resolve(site, nil)
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Resolve() error = %v, want CredentialError", err)
	}
	if credErr.Field != "kt.username" {
		t.Errorf("CredentialError.Field = %q, want %q", credErr.Field, "kt.username")
	}

	site.KT = config.KTCredentialConfig{Username: "admin", Password: "pw"}
	ctx, err := Resolve(site, nil)
	if err != nil {
		t.Fatalf("Resolve() with kt credentials error = %v", err)
	}
	if ctx.KTUsername != "admin" || ctx.KTPassword != "pw" {
		t.Errorf("kt credentials = %q/%q, want admin/pw", ctx.KTUsername, ctx.KTPassword)
	}
}

func TestResolve_EmptyKeyringReference(t *testing.T) {
	site := siteConfig()
	site.NCP.AccessKey = "keyring:"

	var credErr *domain.CredentialError
	if _, err := Resolve(site, NewMockStore()); !errors.As(err, &credErr) {
		t.Fatalf("Resolve() error = %v, want CredentialError", err)
	}
}
