// Package domain holds the core types shared by the registry, config
// store, subscription engine, and cluster layers: service/instance
// identity, config entries, subscriptions, connections, and the
// structured error type used to report failures across all of them.
package domain

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error kinds from the wire protocol. Every
// DomainError carries exactly one Kind, which is mapped to a numeric
// wire code by the dispatcher (see dispatcher.WireCode).
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindRateLimited     Kind = "rate_limited"
	KindConflict        Kind = "conflict"
	KindNotLeader       Kind = "not_leader"
	KindUnavailable     Kind = "unavailable"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// DomainError is the single structured error type used throughout the
// registry/config kernel. Handler code compares against sentinel
// values with errors.Is rather than string matching.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	// LeaderHint carries the address of the current leader, populated
	// only for KindNotLeader errors.
	LeaderHint string
	Cause      error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same Code,
// ignoring Message/Details/Cause so sentinel comparisons are stable.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

func (e *DomainError) WithDetails(details map[string]string) *DomainError {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *DomainError) WithCause(cause error) *DomainError {
	clone := *e
	clone.Cause = cause
	return &clone
}

func (e *DomainError) WithLeaderHint(addr string) *DomainError {
	clone := *e
	clone.LeaderHint = addr
	return &clone
}

// Wrap attaches cause to a copy of base, preserving base's Kind/Code.
func Wrap(base *DomainError, cause error) *DomainError {
	return base.WithCause(cause)
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind == kind
}

// GetErrorCode returns the DomainError code for err, or "" if err is
// not (or does not wrap) a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Sentinel errors for the registry.
var (
	ErrServiceNotFound  = New(KindNotFound, "BN-REG-4040", "service not found")
	ErrInstanceNotFound = New(KindNotFound, "BN-REG-4041", "instance not found")
	ErrInvalidInstance  = New(KindInvalidArgument, "BN-REG-4000", "invalid instance")
	ErrInvalidService   = New(KindInvalidArgument, "BN-REG-4001", "invalid service identity")
)

// Sentinel errors for the config store.
var (
	ErrConfigNotFound  = New(KindNotFound, "BN-CFG-4040", "config entry not found")
	ErrInvalidConfig   = New(KindInvalidArgument, "BN-CFG-4000", "invalid config key or content")
	ErrConfigConflict  = New(KindConflict, "BN-CFG-4090", "config version conflict")
	ErrGrayRuleInvalid = New(KindInvalidArgument, "BN-CFG-4001", "invalid gray rule")
)

// Sentinel errors for subscriptions and connections.
var (
	ErrConnectionNotFound  = New(KindNotFound, "BN-CONN-4040", "connection not found")
	ErrSubscriptionInvalid = New(KindInvalidArgument, "BN-SUB-4000", "invalid subscription fingerprint")
	ErrQueueFull           = New(KindUnavailable, "BN-CONN-5030", "outbound push queue full")
)

// Sentinel errors for the cluster/consensus layer.
var (
	ErrNotLeader        = New(KindNotLeader, "BN-CLU-4210", "not the raft leader")
	ErrClusterUnavail   = New(KindUnavailable, "BN-CLU-5030", "cluster unavailable")
	ErrProposeTimeout   = New(KindTimeout, "BN-CLU-5040", "raft propose timed out")
	ErrMemberIDMismatch = New(KindForbidden, "BN-CLU-4030", "cluster id mismatch")
)

// Sentinel errors for request handling.
var (
	ErrUnauthorized = New(KindUnauthorized, "BN-REQ-4010", "authentication required")
	ErrForbidden    = New(KindForbidden, "BN-REQ-4030", "not authorized for this resource")
	ErrRateLimited  = New(KindRateLimited, "BN-REQ-4290", "rate limit exceeded")
	ErrTimeout      = New(KindTimeout, "BN-REQ-5040", "request deadline exceeded")
	ErrInternal     = New(KindInternal, "BN-REQ-5000", "internal error")
)
