package utils

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

// PtrIfSet returns a pointer to v, or nil when v is the zero value. Useful for
// partial updates where "not provided" and "cleared" must differ.
func PtrIfSet[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
