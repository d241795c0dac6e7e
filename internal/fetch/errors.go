package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedScheme    = errors.New("unsupported scheme")
	ErrSourceBudgetExceeded = errors.New("source limit reached")
	ErrFetchFailed          = errors.New("fetch failed")
)

// FetchError reports a transport or protocol failure for URL.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %v", e.Cause)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Cause}
}
