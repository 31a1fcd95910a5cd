package services

// ValidationError rejects a request before any work is done. Message names
// the violated precondition.
type ValidationError struct {
	Message string
	Details string
}

func (e *ValidationError) Error() string { return e.Message }
