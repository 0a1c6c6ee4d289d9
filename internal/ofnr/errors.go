package ofnr

import "errors"

// Error taxonomy. Stages wrap these with fmt.Errorf so callers can test with
// errors.Is.
var (
	// ErrObservationRejected marks judgmental content with no safe rewrite.
	// Recovered locally: the observation is dropped and the record continues.
	ErrObservationRejected = errors.New("observation rejected")

	// ErrNotInLockedList marks a need outside the canonical needs list.
	ErrNotInLockedList = errors.New("need not in locked list")

	// ErrSchemaViolation marks output that does not conform to the master schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrConfig marks a malformed or incomplete ontology or configuration.
	ErrConfig = errors.New("config error")

	// ErrRejected wraps every hard failure that ends a pipeline run.
	ErrRejected = errors.New("record rejected")
)
