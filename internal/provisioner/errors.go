package provisioner

import "fmt"

// AddressValidationError means the submitted address material is malformed.
// Nothing was written; resubmitting the same material will fail the same way.
type AddressValidationError struct {
	Field  string
	Detail string
}

func (e *AddressValidationError) Error() string {
	return fmt.Sprintf("invalid %s address: %s", e.Field, e.Detail)
}

func (e *AddressValidationError) Retryable() bool { return false }

// AddressConflictError means the address is already bound to another account.
// Addresses are globally unique; the caller needs different key material.
type AddressConflictError struct {
	Address string
}

func (e *AddressConflictError) Error() string {
	return fmt.Sprintf("address %s is already bound to another account", e.Address)
}

func (e *AddressConflictError) Retryable() bool { return false }

// InfrastructureError wraps transient storage failures during provisioning.
// The provisioning transaction is atomic, so a retry starts from a clean slate.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Retryable() bool { return true }
