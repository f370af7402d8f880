package provider

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Kind selects the wire protocol used to talk to an upstream provider.
type Kind string

const (
	KindOpenAI  Kind = "openai"
	KindBedrock Kind = "bedrock"
	KindGemini  Kind = "gemini"
)

var (
	ErrUnsupportedModel  = errors.New("provider: unsupported model")
	ErrMissingCredential = errors.New("provider: credential not configured")
)

// Entry is one row of the provider table before credentials are resolved.
type Entry struct {
	Model         string `json:"model"`
	Kind          Kind   `json:"kind"`
	CredentialRef string `json:"credential_ref"`
	BaseURL       string `json:"base_url,omitempty"`
}

// Config is the resolved connection parameters for one model.
type Config struct {
	Model         string
	Kind          Kind
	CredentialRef string
	Credential    string
	BaseURL       string
}

// ModelInfo is the public view of a registry entry.
type ModelInfo struct {
	Model      string `json:"model"`
	Kind       Kind   `json:"kind"`
	Configured bool   `json:"configured"`
}

// SecretLookup returns the configured value for a credential reference, or "".
type SecretLookup func(ref string) string

// Registry maps model identifiers to provider configs. It is built once and never mutated.
type Registry struct {
	entries      map[string]Config
	defaultModel string
}

// NewRegistry validates entries and resolves every credential reference through lookup.
func NewRegistry(entries []Entry, defaultModel string, lookup SecretLookup) (*Registry, error) {
	if lookup == nil {
		lookup = func(string) string { return "" }
	}
	table := make(map[string]Config, len(entries))
	for i, entry := range entries {
		model := strings.TrimSpace(entry.Model)
		if model == "" {
			return nil, fmt.Errorf("provider: entry %d has no model", i)
		}
		if _, dup := table[model]; dup {
			return nil, fmt.Errorf("provider: duplicate model %q", model)
		}
		if err := validateEntry(entry); err != nil {
			return nil, fmt.Errorf("provider: model %q: %w", model, err)
		}
		ref := strings.TrimSpace(entry.CredentialRef)
		var secret string
		if ref != "" {
			secret = strings.TrimSpace(lookup(ref))
		}
		table[model] = Config{
			Model:         model,
			Kind:          entry.Kind,
			CredentialRef: ref,
			Credential:    secret,
			BaseURL:       strings.TrimRight(strings.TrimSpace(entry.BaseURL), "/"),
		}
	}

	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel != "" {
		if _, ok := table[defaultModel]; !ok {
			return nil, fmt.Errorf("provider: default model %q is not registered", defaultModel)
		}
	}
	return &Registry{entries: table, defaultModel: defaultModel}, nil
}

func validateEntry(entry Entry) error {
	switch entry.Kind {
	case KindOpenAI:
		u, err := url.Parse(strings.TrimSpace(entry.BaseURL))
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("base_url %q must be an absolute URL", entry.BaseURL)
		}
	case KindBedrock, KindGemini:
	default:
		return fmt.Errorf("unknown kind %q", entry.Kind)
	}
	if strings.TrimSpace(entry.CredentialRef) == "" {
		return errors.New("credential_ref is required")
	}
	return nil
}

// Resolve returns the config for modelID. The credential is checked here so callers never
// reach the network without one.
func (r *Registry) Resolve(modelID string) (Config, error) {
	cfg, ok := r.entries[modelID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, modelID)
	}
	if cfg.Credential == "" {
		return Config{}, fmt.Errorf("%w: %s requires %s", ErrMissingCredential, modelID, cfg.CredentialRef)
	}
	return cfg, nil
}

// DefaultModel is the model used when a request does not name one.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Models lists registered models sorted by identifier.
func (r *Registry) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.entries))
	for _, cfg := range r.entries {
		out = append(out, ModelInfo{Model: cfg.Model, Kind: cfg.Kind, Configured: cfg.Credential != ""})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// HasKind reports whether any registered model uses kind.
func (r *Registry) HasKind(kind Kind) bool {
	for _, cfg := range r.entries {
		if cfg.Kind == kind {
			return true
		}
	}
	return false
}
