// Package parse recovers structured prescription fields from extracted text.
// Every field is an ordered list of pure strategies and the first hit wins.
package parse

// Strategy tries to recover one value from text.
type Strategy[T any] func(text string) (T, bool)

// First applies strategies in order and returns the first successful result.
func First[T any](text string, strategies []Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(text); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
