// Package fingerprint derives stable, collision-resistant cache keys for
// language-model requests. Two requests that differ only in insignificant
// whitespace produce the same fingerprint; any change to provider, model,
// prompt content, or sampling parameters produces a different one.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Params are the sampling parameters that participate in the fingerprint.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Request describes one language-model call for fingerprinting purposes.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Params       Params
}

// Compute returns the hex-encoded fingerprint for a request.
func Compute(req Request) string {
	h := sha256.New()

	// Field separator that cannot appear in normalized text.
	sep := []byte{0}

	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.Provider))))
	h.Write(sep)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.Model))))
	h.Write(sep)
	h.Write([]byte(Normalize(req.SystemPrompt)))
	h.Write(sep)
	h.Write([]byte(Normalize(req.UserPrompt)))
	h.Write(sep)
	fmt.Fprintf(h, "%d:%.4f", req.Params.MaxTokens, req.Params.Temperature)

	return hex.EncodeToString(h.Sum(nil))
}

// Normalize collapses runs of whitespace to single spaces and trims the
// result, so formatting-only differences do not fragment the cache.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
