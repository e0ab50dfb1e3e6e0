package source

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNetwork covers connection, DNS and transport timeouts.
	KindNetwork
	// KindHTTPStatus is a response with a non-2xx status.
	KindHTTPStatus
	// KindDecode is a body that is not a JSON array of policy objects.
	KindDecode
)

// errors
var (
	ErrNetwork    = errors.New("network failure")
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrDecode     = errors.New("malformed policy list")

	ErrMissingFingerprint   = errors.New("policy has no fingerprint")
	ErrDuplicateFingerprint = errors.New("duplicate policy fingerprint")

	ErrInvalidBackendURL = errors.New("invalid backend url")
	ErrInvalidProject    = errors.New("invalid project id")
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkFailure"
	case KindHTTPStatus:
		return "HttpStatusFailure"
	case KindDecode:
		return "DecodeFailure"
	}
	return "Unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindHTTPStatus:
		return ErrHTTPStatus
	case KindDecode:
		return ErrDecode
	}
	return nil
}

// FetchError is returned by FetchPolicies for every failure other than
// cancellation of the caller's context.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("%s: GET %s returned %d", e.Kind.sentinel(), e.URL, e.StatusCode)
	case KindNetwork, KindDecode:
		return fmt.Sprintf("%s: GET %s: %v", e.Kind.sentinel(), e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newNetworkError(url string, err error) error {
	return &FetchError{Kind: KindNetwork, URL: url, Err: err}
}

func newStatusError(url string, code int, body string) error {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &FetchError{Kind: KindHTTPStatus, URL: url, StatusCode: code, Err: err}
}

func newDecodeError(url string, err error) error {
	return &FetchError{Kind: KindDecode, URL: url, Err: err}
}
