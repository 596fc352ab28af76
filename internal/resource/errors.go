package resource

import "errors"

var (
	// ErrMissingAttribute indicates a capability or requirement lacks an attribute its namespace mandates.
	ErrMissingAttribute = errors.New("missing mandatory attribute")
	// ErrInvalidAttribute indicates an attribute value of the wrong type or format.
	ErrInvalidAttribute = errors.New("invalid attribute")
	// ErrInvalidDirective indicates a malformed directive value.
	ErrInvalidDirective = errors.New("invalid directive")
	// ErrEmptyNamespace indicates a capability or requirement without a namespace.
	ErrEmptyNamespace = errors.New("empty namespace")
	// ErrImmutable indicates a mutation attempt on a sealed resource.
	ErrImmutable = errors.New("resource is immutable")
	// ErrNotBuilt indicates a resource was used before MakeImmutable.
	ErrNotBuilt = errors.New("resource is not built")
	// ErrNoIdentity indicates a resource sealed without an identity capability.
	ErrNoIdentity = errors.New("resource has no identity capability")
	// ErrDuplicateIdentity indicates a second identity capability on one resource.
	ErrDuplicateIdentity = errors.New("resource already has an identity capability")
	// ErrForeignOwner indicates a capability or requirement already owned by another resource.
	ErrForeignOwner = errors.New("owned by another resource")
	// ErrNilArgument indicates a required argument was nil.
	ErrNilArgument = errors.New("nil argument")
	// ErrWireMismatch indicates a wire added to a wiring of a different resource.
	ErrWireMismatch = errors.New("wire does not belong to wiring")
)
