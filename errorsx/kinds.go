// Package errorsx defines the engine's error taxonomy as a tagged sum of
// kinds rather than a zoo of concrete error types. Every adapter and
// component wraps the underlying failure with one of these sentinels so
// callers can branch with errors.Is regardless of which store or provider
// produced the error.
package errorsx

import "github.com/cockroachdb/errors"

// Kind is one of the sentinel error kinds recognized across the engine.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

var (
	// NotFound: KB, document, or structure missing.
	NotFound = Kind{"not_found"}
	// Conflict: duplicate content hash within a KB; reprocess requested while PROCESSING.
	Conflict = Kind{"conflict"}
	// EmptyInput: empty text for chunking or embedding.
	EmptyInput = Kind{"empty_input"}
	// InvalidConfig: dimension mismatch, unknown retrieval mode, invalid weights.
	InvalidConfig = Kind{"invalid_config"}
	// ProviderTransient: rate-limit/timeout from embedding/LLM/store; retryable with backoff.
	ProviderTransient = Kind{"provider_transient"}
	// ProviderPermanent: auth, bad request, corruption; not retryable.
	ProviderPermanent = Kind{"provider_permanent"}
	// StoreUnavailable: vector or lexical backend unreachable.
	StoreUnavailable = Kind{"store_unavailable"}
	// Truncated: context exceeded max_context_chars; non-fatal.
	Truncated = Kind{"truncated"}
	// IntentFailure: LLM intent extraction failed; non-fatal.
	IntentFailure = Kind{"intent_failure"}
)

// Wrap attaches kind k to err, preserving err in the cause chain so
// errors.Is(result, k) and errors.Is(result, err) both hold.
func Wrap(err error, k Kind, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(errors.Mark(err, k), "%s", msg)
}

// New creates a fresh error of kind k with the given message.
func New(k Kind, msg string) error {
	return errors.Mark(errors.New(msg), k)
}

// Newf creates a fresh error of kind k with a formatted message.
func Newf(k Kind, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), k)
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return errors.Is(err, k)
}

// Retryable reports whether the error kind is one the caller should
// retry with backoff (§4.2, §5).
func Retryable(err error) bool {
	return Is(err, ProviderTransient)
}
