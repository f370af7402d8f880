package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AWSCredentialChainRef marks an entry whose credential comes from the AWS default
// credential chain (static keys, shared profile, or an instance/task role).
const AWSCredentialChainRef = "aws-default-chain"

const (
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	hunyuanBaseURL   = "https://api.hunyuan.cloud.tencent.com/v1"
	arkBaseURL       = "https://ark.cn-beijing.volces.com/api/v3"
)

// Defaults carries the optional models appended to the built-in table.
type Defaults struct {
	GeminiModelID  string
	BedrockModelID string
}

// DefaultEntries returns the built-in provider table.
func DefaultEntries(d Defaults) []Entry {
	entries := []Entry{
		{Model: "qwen-plus", Kind: KindOpenAI, CredentialRef: "DASHSCOPE_API_KEY", BaseURL: dashScopeBaseURL},
		{Model: "deepseek-v3", Kind: KindOpenAI, CredentialRef: "DASHSCOPE_API_KEY", BaseURL: dashScopeBaseURL},
		{Model: "hunyuan-turbo", Kind: KindOpenAI, CredentialRef: "HUNYUAN_API_KEY", BaseURL: hunyuanBaseURL},
		// Doubao endpoint on Volcengine Ark.
		{Model: "ep-20250217191935-wzj8l", Kind: KindOpenAI, CredentialRef: "ARK_API_KEY", BaseURL: arkBaseURL},
	}
	if model := strings.TrimSpace(d.GeminiModelID); model != "" {
		entries = append(entries, Entry{Model: model, Kind: KindGemini, CredentialRef: "GEMINI_API_KEY"})
	}
	if model := strings.TrimSpace(d.BedrockModelID); model != "" {
		entries = append(entries, Entry{Model: model, Kind: KindBedrock, CredentialRef: AWSCredentialChainRef})
	}
	return entries
}

// LoadEntries reads a JSON array of entries from path.
func LoadEntries(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provider: read %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("provider: parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("provider: %s contains no entries", path)
	}
	return entries, nil
}
