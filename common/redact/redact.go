// Package redact strips credentials (weather and translation API keys, the
// Supabase key, the Matrix access token) from values before they are
// logged.
//
// Redaction works on string forms only. Callers pass the secrets they know
// about; keys whose name looks secret are masked wholesale.
package redact

import (
	"sort"
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// String replaces every occurrence of each secret in s. Secrets shorter
// than 4 characters are ignored so that short common substrings survive.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Error is String applied to err's message. A nil err gives "".
func Error(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), secrets...)
}

// Map returns a copy of m in which non-empty string values under secret
// looking keys are masked.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && SensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// Args flattens m into sorted key/value pairs for a slog call, masking as
// Map does.
func Args(m map[string]any) []any {
	safe := Map(m)
	keys := make([]string, 0, len(safe))
	for k := range safe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, safe[k])
	}
	return args
}

// SensitiveKey reports whether a setting name such as "weather.api_key" or
// "matrix.access_token" is likely to hold a credential.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
