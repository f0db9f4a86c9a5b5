package ingest

import "errors"

// ErrUnknownSchema is returned when neither an explicit schemaVersion,
// a v2 area, nor a v1 event name can be determined from the payload.
var ErrUnknownSchema = errors.New("ingest: unknown schema")

// ErrMalformedPayload is returned when the request body is not a JSON
// object (or is not parsable JSON at all).
var ErrMalformedPayload = errors.New("ingest: malformed payload")
