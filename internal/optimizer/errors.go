package optimizer

import (
	"fmt"

	"github.com/vnmchuo/llm-optimizer/internal/routing"
)

type ErrorKind string

const (
	// KindConfig is fatal and only surfaces at construction.
	KindConfig ErrorKind = "configuration"
	// KindInferenceTransient means the bounded retry was exhausted on
	// retryable failures (rate limits, timeouts).
	KindInferenceTransient ErrorKind = "inference_transient"
	// KindInferenceFatal means the collaborator failed in a way a
	// retry cannot fix (service/auth errors).
	KindInferenceFatal ErrorKind = "inference_fatal"
)

// Error is the only error shape Answer surfaces. It carries the
// routing decision made before the failure so callers can see which
// tier was attempted.
type Error struct {
	Kind     ErrorKind         `json:"kind"`
	Message  string            `json:"message"`
	Decision *routing.Decision `json:"decision,omitempty"`
	Err      error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
