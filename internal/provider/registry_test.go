package provider

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secrets(values map[string]string) SecretLookup {
	return func(ref string) string { return values[ref] }
}

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(DefaultEntries(Defaults{}), "qwen-plus", secrets(map[string]string{
		"DASHSCOPE_API_KEY": "sk-dash",
	}))
	require.NoError(t, err)

	cfg, err := reg.Resolve("deepseek-v3")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-v3", cfg.Model)
	assert.Equal(t, KindOpenAI, cfg.Kind)
	assert.Equal(t, "sk-dash", cfg.Credential)
	assert.Equal(t, dashScopeBaseURL, cfg.BaseURL)

	again, err := reg.Resolve("deepseek-v3")
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestRegistryUnsupportedModel(t *testing.T) {
	reg, err := NewRegistry(DefaultEntries(Defaults{}), "", secrets(nil))
	require.NoError(t, err)

	_, err = reg.Resolve("unknown-model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedModel))
	assert.Contains(t, err.Error(), "unknown-model")
}

func TestRegistryMissingCredential(t *testing.T) {
	reg, err := NewRegistry(DefaultEntries(Defaults{}), "", secrets(map[string]string{
		"DASHSCOPE_API_KEY": "sk-dash",
		"HUNYUAN_API_KEY":   "   ",
	}))
	require.NoError(t, err)

	_, err = reg.Resolve("hunyuan-turbo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
	assert.Contains(t, err.Error(), "HUNYUAN_API_KEY")
}

func TestNewRegistryRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		def     string
	}{
		{"empty model", []Entry{{Kind: KindGemini, CredentialRef: "K"}}, ""},
		{"duplicate", []Entry{
			{Model: "m", Kind: KindGemini, CredentialRef: "K"},
			{Model: "m", Kind: KindGemini, CredentialRef: "K"},
		}, ""},
		{"unknown kind", []Entry{{Model: "m", Kind: "smoke-signals", CredentialRef: "K"}}, ""},
		{"relative base url", []Entry{{Model: "m", Kind: KindOpenAI, CredentialRef: "K", BaseURL: "/v1"}}, ""},
		{"missing credential ref", []Entry{{Model: "m", Kind: KindGemini}}, ""},
		{"unknown default", []Entry{{Model: "m", Kind: KindGemini, CredentialRef: "K"}}, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.entries, tt.def, secrets(nil))
			assert.Error(t, err)
		})
	}
}

func TestRegistryModelsSortedWithoutSecrets(t *testing.T) {
	reg, err := NewRegistry(DefaultEntries(Defaults{GeminiModelID: "gemini-2.5-flash", BedrockModelID: "amazon.nova-lite-v1:0"}),
		"qwen-plus", secrets(map[string]string{"GEMINI_API_KEY": "g"}))
	require.NoError(t, err)

	models := reg.Models()
	require.Len(t, models, 6)
	assert.Equal(t, "amazon.nova-lite-v1:0", models[0].Model)
	assert.Equal(t, KindBedrock, models[0].Kind)
	for _, m := range models {
		assert.Equal(t, m.Model == "gemini-2.5-flash", m.Configured, m.Model)
	}
	assert.Equal(t, "qwen-plus", reg.DefaultModel())
	assert.True(t, reg.HasKind(KindBedrock))
	assert.True(t, reg.HasKind(KindGemini))
}

func TestDefaultEntriesOmitOptionalModels(t *testing.T) {
	entries := DefaultEntries(Defaults{})
	require.Len(t, entries, 4)
	reg, err := NewRegistry(entries, "", secrets(nil))
	require.NoError(t, err)
	assert.False(t, reg.HasKind(KindBedrock))
}

func TestLoadEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.json")
	body := `[
		{"model": "local-llama", "kind": "openai", "credential_ref": "LOCAL_KEY", "base_url": "http://localhost:11434/v1/"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	entries, err := LoadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	reg, err := NewRegistry(entries, "local-llama", secrets(map[string]string{"LOCAL_KEY": "x"}))
	require.NoError(t, err)
	cfg, err := reg.Resolve("local-llama")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.BaseURL)
}

func TestLoadEntriesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadEntries(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = LoadEntries(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o600))
	_, err = LoadEntries(empty)
	assert.Error(t, err)
}

func TestDefaultBedrockEntryUsesAWSCredentialChain(t *testing.T) {
	entries := DefaultEntries(Defaults{BedrockModelID: "amazon.nova-lite-v1:0"})
	last := entries[len(entries)-1]
	assert.Equal(t, KindBedrock, last.Kind)
	assert.Equal(t, AWSCredentialChainRef, last.CredentialRef)
}
