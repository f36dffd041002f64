package rate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
)

// credentials: provider options 中与分组相关的键（其余键忽略）。
type credentials struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// defaultKeyEnv: 未写 api_key_env 时各客户端默认读取的环境变量。
var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GOOGLE_API_KEY",
}

// KeyFor 返回 provider 的调度分组键 "<client>:<sha256 前 8 字节>"，
// 使共用同一 API Key 的 provider 共享冷却与额度。取不到 key 时退回 provider 名称。
func KeyFor(provider, client string, raw json.RawMessage) LimitKey {
	var c credentials
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c)
	}
	secret := strings.TrimSpace(c.APIKey)
	if secret == "" {
		env := strings.TrimSpace(c.APIKeyEnv)
		if env == "" {
			env = defaultKeyEnv[client]
		}
		if env != "" {
			secret = strings.TrimSpace(os.Getenv(env))
		}
	}
	if secret == "" {
		return LimitKey(provider)
	}
	sum := sha256.Sum256([]byte(secret))
	return LimitKey(client + ":" + hex.EncodeToString(sum[:8]))
}
