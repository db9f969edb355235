package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned by a transport when a bounded wait expires with no notification.
	ErrTimedOut = errors.New("wait for notification timed out")
	// ErrAlreadyStarted rejects Start on a running dependency.
	ErrAlreadyStarted = errors.New("dependency already started")
)

// MappingError reports an inconsistency between a model mapping and the table.
type MappingError struct {
	Property string
	Column   string
	Reason   string
}

func (e *MappingError) Error() string {
	switch {
	case e.Property != "" && e.Column != "":
		return fmt.Sprintf("mapping %s -> %s: %s", e.Property, e.Column, e.Reason)
	case e.Column != "":
		return fmt.Sprintf("mapping column %s: %s", e.Column, e.Reason)
	case e.Property != "":
		return fmt.Sprintf("mapping property %s: %s", e.Property, e.Reason)
	default:
		return "mapping: " + e.Reason
	}
}

// NoInterestedColumnsError is returned when no model property matches a table column.
type NoInterestedColumnsError struct {
	Table string
}

func (e *NoInterestedColumnsError) Error() string {
	return fmt.Sprintf("no correspondence between model and columns of table %s", e.Table)
}

// DmlTriggerTypeError rejects an update-of column list when updates are not watched.
type DmlTriggerTypeError struct {
	TriggerType TriggerType
}

func (e *DmlTriggerTypeError) Error() string {
	return fmt.Sprintf("update-of columns require an update trigger, got %s", e.TriggerType)
}

// ArgumentError reports an invalid caller-supplied value.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

// MessageDecodeError reports a malformed wire payload or an unconvertible value.
type MessageDecodeError struct {
	Offset int
	Reason string
	Err    error
}

func (e *MessageDecodeError) Error() string {
	msg := fmt.Sprintf("decode message at offset %d: %s", e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MessageDecodeError) Unwrap() error {
	return e.Err
}

// ProvisioningError wraps a failure to create or validate server-side objects.
type ProvisioningError struct {
	Op  string
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// FatalTransportError marks a transport failure the listen loop cannot recover from.
type FatalTransportError struct {
	Err error
}

func (e *FatalTransportError) Error() string {
	return e.Err.Error()
}

func (e *FatalTransportError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the listen loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalTransportError
	if errors.As(err, &fatal) {
		return true
	}
	return IsConsistency(err)
}

// IsConsistency reports whether err means the dependency itself is unusable.
func IsConsistency(err error) bool {
	var mapping *MappingError
	if errors.As(err, &mapping) {
		return true
	}
	var noCols *NoInterestedColumnsError
	return errors.As(err, &noCols)
}
