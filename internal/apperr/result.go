package apperr

// ErrorBody is the failure half of Result.
type ErrorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Result is the tagged outcome consumed by callers that fan out work and
// report each item uniformly: {success, data} or {success:false, error}.
type Result[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK wraps a successful value.
func OK[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

// Fail wraps err, keeping only its public classification and message.
func Fail[T any](err error) Result[T] {
	return Result[T]{Error: &ErrorBody{Kind: KindOf(err), Message: PublicMessage(err)}}
}

// From converts the usual (value, error) pair.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(v)
}
