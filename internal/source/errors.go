package source

import "fmt"

// FetchError is a failed request: transport error, unreadable body or a
// non-2xx status.
type FetchError struct {
	Source string
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: fetch %s: status %d: %v", e.Source, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: fetch %s: %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ResponseFormatError is a response whose top-level shape could not be decoded.
type ResponseFormatError struct {
	Source string
	URL    string
	Err    error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("%s: decode %s: %v", e.Source, e.URL, e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }
