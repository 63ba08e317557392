// Package status exports the error taxonomy shared by the catalog engine.
//
// Nothing in the engine silently repairs an inconsistent catalog: ambiguity
// is surfaced through one of these sentinels, with the conflicting values
// attached as a wrapped cause.
package status

import (
	"github.com/canonical/maas-images/pkg/errors"
)

var (
	// ErrFormat indicates an unparseable catalog, or one whose format
	// marker is absent or unrecognized
	ErrFormat = errors.New("unrecognized catalog format")

	// ErrSchema indicates a parseable catalog with an invalid structure,
	// e.g. a products entry that is not a map
	ErrSchema = errors.New("invalid catalog schema")

	// ErrConsistency indicates that the same path or pedigree claims two
	// different hashes or two different immutable-version payloads
	ErrConsistency = errors.New("catalog consistency violation")

	// ErrIntegrity indicates a copied or fetched file whose computed hash
	// disagrees with the catalog-declared hash
	ErrIntegrity = errors.New("file integrity check failed")

	// ErrNotFound indicates a product, stream or source required by an
	// operation is absent
	ErrNotFound = errors.New("not found")

	// ErrInterrupted signals that background processing has been interrupted
	ErrInterrupted = errors.New("background processing interrupted")
)
