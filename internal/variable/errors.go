package variable

// ValidationError reports an invalid descriptor or input at registration
// or input-preparation time. It always aborts the run before any
// optimization starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// ConfigurationError reports an invalid hyperparameter combination, such
// as referencing an unregistered variable or a non-positive batch size.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Param + " " + e.Reason
}
