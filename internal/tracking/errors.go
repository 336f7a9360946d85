package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimestampFormat reports a caller-supplied time string that
	// could not be parsed.
	ErrInvalidTimestampFormat = errors.New("invalid timestamp format")
	// ErrUnknownDevice reports a query for an address that was never
	// recorded.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrMalformedSighting reports a sighting missing its identity or
	// timestamp.
	ErrMalformedSighting = errors.New("malformed sighting")
	// ErrStorageUnavailable wraps every failure of the data-access layer.
	// The engine does not retry; that is the caller's decision.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// storageErr classifies an error returned by a Store. Caller-input kinds
// pass through untouched; everything else becomes ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownDevice) ||
		errors.Is(err, ErrMalformedSighting) ||
		errors.Is(err, ErrInvalidTimestampFormat) ||
		errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// BatchFailure records one rejected entry of an ingestion batch.
type BatchFailure struct {
	Index   int
	Address string
	Err     error
}

func (f BatchFailure) Error() string {
	return fmt.Sprintf("sighting %d (%q): %v", f.Index, f.Address, f.Err)
}

func (f BatchFailure) Unwrap() error { return f.Err }

// BatchResult summarises AppendBatch. A batch never aborts early: every
// entry is either inserted or listed in Failures.
type BatchResult struct {
	Inserted []Sighting
	Failures []BatchFailure
}

// Err joins all failures, or returns nil when the whole batch was accepted.
func (r BatchResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
