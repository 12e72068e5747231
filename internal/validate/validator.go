package validate

import (
	"strings"

	"github.com/zhouzirui/chat-gateway/internal/analysis/token"
)

// suspiciousPhrases are soft prompt-injection markers. A match never rejects
// the request; it only surfaces in Result.Flags so the caller can log it.
var suspiciousPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"system:",
	"assistant:",
	"you are now",
}

// Result carries the outcome of inbound message validation. Length and
// EstimatedTokens are populated for valid messages so callers do not have to
// re-derive them.
type Result struct {
	Valid           bool
	Err             string
	Length          int
	EstimatedTokens int
	Flags           []string
}

// Validator applies the inbound message rules in a fixed order: presence,
// then length, then token estimation and the phrase scan.
type Validator struct {
	maxLength int
}

// New creates a validator rejecting messages longer than maxLength characters.
func New(maxLength int) *Validator {
	return &Validator{maxLength: maxLength}
}

// Check validates a raw message body. It never panics and has no side
// effects; flagged phrases are a diagnostic signal, not a security boundary.
func (v *Validator) Check(message string) Result {
	if message == "" {
		return Result{Err: "message is required"}
	}
	if len(message) > v.maxLength {
		return Result{Err: "message too long", Length: len(message)}
	}

	lowered := strings.ToLower(message)
	var flags []string
	for _, phrase := range suspiciousPhrases {
		if strings.Contains(lowered, phrase) {
			flags = append(flags, phrase)
		}
	}

	return Result{
		Valid:           true,
		Length:          len(message),
		EstimatedTokens: token.Estimate(message),
		Flags:           flags,
	}
}
