// Package secrets resolves API keys from Secret Manager or the environment.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
)

var ErrNotFound = errors.New("secret not found")

// SecretResolutionError is returned when a secret cannot be read.
type SecretResolutionError struct {
	SecretID string
	Err      error
}

func (e *SecretResolutionError) Error() string {
	return fmt.Sprintf("resolve secret %s: %v", e.SecretID, e.Err)
}

func (e *SecretResolutionError) Unwrap() error { return e.Err }

// Value is a resolved secret. Structured is set when the payload is a JSON
// object or array.
type Value struct {
	Raw        string
	Structured interface{}
}

// String returns the plain secret text.
func (v Value) String() string { return v.Raw }

func parseValue(raw string) Value {
	v := Value{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured interface{}
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			v.Structured = structured
		}
	}
	return v
}

// Provider resolves secrets by id.
type Provider interface {
	Get(ctx context.Context, secretID string) (Value, error)
}

// GCPProvider reads from Google Cloud Secret Manager.
type GCPProvider struct {
	client  *secretmanager.Client
	project string
	version string
}

// NewGCPProvider creates a Secret Manager client. version is usually "latest"
// or a version number.
func NewGCPProvider(ctx context.Context, project, version string) (*GCPProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secretmanager client: %w", err)
	}
	if version == "" {
		version = "latest"
	}
	return &GCPProvider{client: client, project: project, version: version}, nil
}

// VersionName builds projects/{project}/secrets/{id}/versions/{version}.
func VersionName(project, secretID, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, secretID, version)
}

func (p *GCPProvider) Get(ctx context.Context, secretID string) (Value, error) {
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: VersionName(p.project, secretID, p.version),
	})
	if err != nil {
		return Value{}, &SecretResolutionError{SecretID: secretID, Err: err}
	}
	return parseValue(string(resp.GetPayload().GetData())), nil
}

func (p *GCPProvider) Close() error {
	return p.client.Close()
}

// EnvProvider reads secrets from environment variables named after the secret id.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Get(_ context.Context, secretID string) (Value, error) {
	v, ok := p.lookup(secretID)
	if !ok || v == "" {
		return Value{}, &SecretResolutionError{SecretID: secretID, Err: ErrNotFound}
	}
	return parseValue(v), nil
}

// Chain tries each provider in order and returns the first hit.
type Chain []Provider

func (c Chain) Get(ctx context.Context, secretID string) (Value, error) {
	var errs []error
	for _, p := range c {
		v, err := p.Get(ctx, secretID)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		errs = append(errs, ErrNotFound)
	}
	return Value{}, &SecretResolutionError{SecretID: secretID, Err: errors.Join(errs...)}
}

// Resolve returns the secret text, or an empty string when it cannot be read.
// The failure is logged and the caller carries on; requests made with the
// empty key fail later at fetch time.
func Resolve(ctx context.Context, p Provider, secretID string) string {
	v, err := p.Get(ctx, secretID)
	if err != nil {
		logger.Errorf("%v", err)
		return ""
	}
	return v.String()
}
