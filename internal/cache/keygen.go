package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// KeyParams contains the request fields that affect model output. Fields that
// cannot change the response (request IDs, streaming flags) must not be added
// here; that exclusion is what makes two logically-equal requests hash
// identically.
type KeyParams struct {
	Model       string
	Prompt      string
	System      string
	Messages    []byte   // canonical serialized conversation, if any
	Input       []string // embedding inputs
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   int
	Extra       map[string]string // additional output-affecting params
}

// KeyGenerator derives cache keys of the form <category>:<sha256 hex>.
// The canonical byte form uses a fixed field order and deterministic numeric
// formatting, so field ordering at the call site can never change the key.
type KeyGenerator struct{}

// NewKeyGenerator creates a KeyGenerator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate derives the cache key for a request. It never fails: unset
// optional fields are canonicalized as an explicit unset marker, which is the
// documented default for every sampler parameter.
func (g *KeyGenerator) Generate(category string, params KeyParams) string {
	var sb strings.Builder

	writeField(&sb, "model", params.Model)
	writeField(&sb, "prompt", params.Prompt)
	writeField(&sb, "system", params.System)
	writeField(&sb, "messages", string(params.Messages))
	writeField(&sb, "input", strings.Join(params.Input, "\x1f"))
	writeField(&sb, "temperature", formatFloat(params.Temperature))
	writeField(&sb, "top_p", formatFloat(params.TopP))
	writeField(&sb, "top_k", formatInt(params.TopK))
	writeField(&sb, "max_tokens", strconv.Itoa(params.MaxTokens))

	// Extra params in sorted key order so map iteration order is irrelevant.
	if len(params.Extra) > 0 {
		keys := make([]string, 0, len(params.Extra))
		for k := range params.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeField(&sb, "x."+k, params.Extra[k])
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return category + ":" + hex.EncodeToString(sum[:])
}

// GenerateFromRaw derives a key from raw string content. Useful for simple
// single-field payloads such as embedding text.
func (g *KeyGenerator) GenerateFromRaw(category, content string) string {
	sum := sha256.Sum256([]byte(content))
	return category + ":" + hex.EncodeToString(sum[:])
}

// Category returns the category prefix of a derived key, or "" if the key has
// no prefix.
func Category(key string) string {
	if prefix, _, ok := strings.Cut(key, ":"); ok {
		return prefix
	}
	return ""
}

func writeField(sb *strings.Builder, name, value string) {
	sb.WriteString(name)
	sb.WriteByte('=')
	sb.WriteString(value)
	sb.WriteByte('\x00')
}

const unsetMarker = "-"

func formatFloat(v *float64) string {
	if v == nil {
		return unsetMarker
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return unsetMarker
	}
	return strconv.Itoa(*v)
}
