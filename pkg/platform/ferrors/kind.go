package ferrors

// Kind is the closed set of diagnostic error categories from the
// pipeline's error-handling design. HTTP handlers map each Kind to a
// status code once, in pkg/httpapi.
type Kind string

const (
	KindInvalidJSON        Kind = "invalid_json"
	KindSchemaValidation   Kind = "schema_validation"
	KindModelError         Kind = "model_error"
	KindTimeout            Kind = "timeout"
	KindMissingContext     Kind = "missing_context"
	KindNotFound           Kind = "not_found"
	KindWrongType          Kind = "wrong_type"
	KindOverwriteBlocked   Kind = "overwrite_blocked"
	KindInvalidTransition  Kind = "invalid_transition"
	KindConfigurationError Kind = "configuration_error"
	KindRateLimited        Kind = "rate_limited"
	KindUnknown            Kind = "unknown"
)

// KindedError pairs a closed-set Kind with a human message and optional cause.
type KindedError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *KindedError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *KindedError) Unwrap() error {
	return e.Cause
}

// New builds a KindedError.
func New(kind Kind, message string, cause error) *KindedError {
	return &KindedError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var ke *KindedError
	if asKindedError(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

func asKindedError(err error, target **KindedError) bool {
	for err != nil {
		if ke, ok := err.(*KindedError); ok {
			*target = ke
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
