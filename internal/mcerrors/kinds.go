// Package mcerrors defines the error-kind taxonomy shared by the
// coordinator, the dispatcher, and the remote channel. Every error that
// crosses the wire protocol round-trips through this package so that a
// peer's failure is re-raised locally as the same kind it was raised as
// remotely (see the Remote Channel's decode path in internal/transport).
package mcerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the user-surfaced error categories from the
// error handling design. Kind values are stable: they are serialized
// verbatim on the wire and must never be renamed without a protocol
// version bump.
type Kind string

const (
	KindAlreadyRunning             Kind = "AlreadyRunning"
	KindRemoteLocked               Kind = "RemoteLocked"
	KindNodeUnreachable            Kind = "NodeUnreachable"
	KindNodeAuthFailed             Kind = "NodeAuthFailed"
	KindUnknownRemoteCommand       Kind = "UnknownRemoteCommand"
	KindRemoteCommandFailed        Kind = "RemoteCommandFailed"
	KindPermissionDenied           Kind = "PermissionDenied"
	KindInvalidName                Kind = "InvalidName"
	KindInvalidVolumeGroupName     Kind = "InvalidVolumeGroupName"
	KindInvalidIPAddress           Kind = "InvalidIPAddress"
	KindVMExists                   Kind = "VMExists"
	KindVMMissing                  Kind = "VMMissing"
	KindDiskExists                 Kind = "DiskExists"
	KindDiskMissing                Kind = "DiskMissing"
	KindVMRunning                  Kind = "VMRunning"
	KindVMNotRunning               Kind = "VMNotRunning"
	KindDRBDNotInstalled           Kind = "DRBDNotInstalled"
	KindDRBDAlreadyEnabled         Kind = "DRBDAlreadyEnabled"
	KindDRBDNotEnabledOnNode       Kind = "DRBDNotEnabledOnNode"
	KindIsoMissing                 Kind = "IsoMissing"
	KindIsoInUse                   Kind = "IsoInUse"
	KindIsoAlreadyExists           Kind = "IsoAlreadyExists"
	KindIsoNotPresentOnDestination Kind = "IsoNotPresentOnDestination"
	KindClusterInconsistency       Kind = "ClusterInconsistency"
	KindNetworkExists              Kind = "NetworkExists"
	KindNetworkMissing             Kind = "NetworkMissing"
)

// Error is the concrete type behind every kind in this package. It
// carries enough structure to be JSON-marshalled across the wire
// protocol and reconstructed on the other side with Kind() intact.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RemoteCommandFailed fields.
	ExitCode int
	Command  string
	Stderr   string

	// ClusterInconsistency fields.
	Peer string
	Step string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) KindOf() Kind { return e.Kind }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewAlreadyRunning(owner int) *Error {
	return newf(KindAlreadyRunning, "an instance of mcvirt is already running (owner pid %d)", owner)
}

func NewRemoteLocked(node string) *Error {
	return newf(KindRemoteLocked, "remote node locked: %s", node)
}

func NewNodeUnreachable(node string, cause error) *Error {
	return wrap(KindNodeUnreachable, cause, "node unreachable: %s", node)
}

func NewNodeAuthFailed(node string, cause error) *Error {
	return wrap(KindNodeAuthFailed, cause, "could not authenticate to node: %s", node)
}

func NewUnknownRemoteCommand(action string) *Error {
	return newf(KindUnknownRemoteCommand, "unknown command: %s", action)
}

func NewRemoteCommandFailed(command string, exitCode int, stderr string) *Error {
	return &Error{
		Kind:     KindRemoteCommandFailed,
		Message:  fmt.Sprintf("remote command failed: %s (exit %d)", command, exitCode),
		Command:  command,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

func NewPermissionDenied(permission string) *Error {
	return newf(KindPermissionDenied, "permission denied: %s", permission)
}

func NewInvalidName(name string) *Error {
	return newf(KindInvalidName, "invalid name: %q", name)
}

func NewInvalidVolumeGroupName(name string) *Error {
	return newf(KindInvalidVolumeGroupName, "invalid volume group name: %q", name)
}

func NewInvalidIPAddress(address string) *Error {
	return newf(KindInvalidIPAddress, "invalid ip address: %q", address)
}

func NewVMExists(name string) *Error {
	return newf(KindVMExists, "virtual machine already exists: %s", name)
}

func NewVMMissing(name string) *Error {
	return newf(KindVMMissing, "virtual machine does not exist: %s", name)
}

func NewDiskExists(vm string, id int) *Error {
	return newf(KindDiskExists, "disk %d already exists on vm %s", id, vm)
}

func NewDiskMissing(vm string, id int) *Error {
	return newf(KindDiskMissing, "disk %d does not exist on vm %s", id, vm)
}

func NewVMRunning(name string) *Error {
	return newf(KindVMRunning, "virtual machine is running: %s", name)
}

func NewVMNotRunning(name string) *Error {
	return newf(KindVMNotRunning, "virtual machine is not running: %s", name)
}

func NewDRBDNotInstalled() *Error {
	return newf(KindDRBDNotInstalled, "drbdadm not found (is the drbd-utils package installed?)")
}

func NewDRBDAlreadyEnabled() *Error {
	return newf(KindDRBDAlreadyEnabled, "drbd has already been enabled on this node")
}

func NewDRBDNotEnabledOnNode(node string) *Error {
	return newf(KindDRBDNotEnabledOnNode, "drbd is not enabled on node: %s", node)
}

func NewIsoMissing(name string) *Error {
	return newf(KindIsoMissing, "iso does not exist: %s", name)
}

func NewIsoInUse(name, vm string) *Error {
	return newf(KindIsoInUse, "iso %s is in use by virtual machine %s", name, vm)
}

func NewIsoAlreadyExists(name string) *Error {
	return newf(KindIsoAlreadyExists, "iso already exists: %s", name)
}

func NewIsoNotPresentOnDestination(name, node string) *Error {
	return newf(KindIsoNotPresentOnDestination, "iso %s not present on destination node %s", name, node)
}

func NewNetworkExists(name string) *Error {
	return newf(KindNetworkExists, "network already exists: %s", name)
}

func NewNetworkMissing(name string) *Error {
	return newf(KindNetworkMissing, "network does not exist: %s", name)
}

func NewClusterInconsistency(peer, step string, cause error) *Error {
	return &Error{
		Kind:    KindClusterInconsistency,
		Message: fmt.Sprintf("cluster inconsistency: peer %s failed at step %s: %v", peer, step, cause),
		Cause:   cause,
		Peer:    peer,
		Step:    step,
	}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

func IsAlreadyRunning(err error) bool             { return Is(err, KindAlreadyRunning) }
func IsRemoteLocked(err error) bool               { return Is(err, KindRemoteLocked) }
func IsNodeUnreachable(err error) bool            { return Is(err, KindNodeUnreachable) }
func IsNodeAuthFailed(err error) bool             { return Is(err, KindNodeAuthFailed) }
func IsUnknownRemoteCommand(err error) bool       { return Is(err, KindUnknownRemoteCommand) }
func IsRemoteCommandFailed(err error) bool        { return Is(err, KindRemoteCommandFailed) }
func IsPermissionDenied(err error) bool           { return Is(err, KindPermissionDenied) }
func IsInvalidName(err error) bool                { return Is(err, KindInvalidName) }
func IsInvalidVolumeGroupName(err error) bool      { return Is(err, KindInvalidVolumeGroupName) }
func IsInvalidIPAddress(err error) bool           { return Is(err, KindInvalidIPAddress) }
func IsVMExists(err error) bool                   { return Is(err, KindVMExists) }
func IsVMMissing(err error) bool                  { return Is(err, KindVMMissing) }
func IsDiskExists(err error) bool                 { return Is(err, KindDiskExists) }
func IsDiskMissing(err error) bool                { return Is(err, KindDiskMissing) }
func IsVMRunning(err error) bool                  { return Is(err, KindVMRunning) }
func IsVMNotRunning(err error) bool               { return Is(err, KindVMNotRunning) }
func IsDRBDNotInstalled(err error) bool           { return Is(err, KindDRBDNotInstalled) }
func IsDRBDAlreadyEnabled(err error) bool         { return Is(err, KindDRBDAlreadyEnabled) }
func IsDRBDNotEnabledOnNode(err error) bool       { return Is(err, KindDRBDNotEnabledOnNode) }
func IsIsoMissing(err error) bool                 { return Is(err, KindIsoMissing) }
func IsIsoInUse(err error) bool                   { return Is(err, KindIsoInUse) }
func IsIsoAlreadyExists(err error) bool           { return Is(err, KindIsoAlreadyExists) }
func IsIsoNotPresentOnDestination(err error) bool { return Is(err, KindIsoNotPresentOnDestination) }
func IsClusterInconsistency(err error) bool       { return Is(err, KindClusterInconsistency) }
func IsNetworkExists(err error) bool              { return Is(err, KindNetworkExists) }
func IsNetworkMissing(err error) bool             { return Is(err, KindNetworkMissing) }
