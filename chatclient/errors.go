package chatclient

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies a transport error for presentation.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	Refused
	HostNotFound
	Timeout
	Permission
	Resource
	RemoteClosed
	Network
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case Refused:
		return "Refused"
	case HostNotFound:
		return "HostNotFound"
	case Timeout:
		return "Timeout"
	case Permission:
		return "Permission"
	case Resource:
		return "Resource"
	case RemoteClosed:
		return "RemoteClosed"
	case Network:
		return "Network"
	default:
		return "Unknown"
	}
}

// Message returns the user-facing text for the kind.
func (k ErrorKind) Message() string {
	switch k {
	case Refused:
		return "The host refused the connection"
	case HostNotFound:
		return "Could not find the server"
	case Timeout:
		return "Operation timed out"
	case Permission:
		return "You don't have permissions to execute this operation"
	case Resource:
		return "Too many connections opened"
	case RemoteClosed:
		return "The server closed the connection"
	case Network:
		return "Unable to reach the network"
	default:
		return "An unknown error occured"
	}
}

// Classify maps a dial, read or write error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return Unknown
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return Refused
	case errors.As(err, &dnsErr):
		return HostNotFound
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return Timeout
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return Permission
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE), errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.ENOMEM):
		return Resource
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return RemoteClosed
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH), errors.As(err, &netErr):
		return Network
	default:
		return Unknown
	}
}

// TransportError is delivered to the transport error handler.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e TransportError) Error() string {
	return e.Kind.Message() + ": " + e.Err.Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}
