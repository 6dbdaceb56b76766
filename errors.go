package dbus

import (
	"fmt"
	"go/token"
	"reflect"
)

// Standard D-Bus error names emitted by the router (spec §6).
const (
	ErrNameUnknownObject     = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownInterface  = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownMethod     = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownService    = "org.freedesktop.DBus.Error.UnknownService"
	ErrNamePropertyReadOnly  = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrNamePropertyWriteOnly = "org.freedesktop.DBus.Error.PropertyWriteOnly"
	ErrNameInvalidArgs       = "org.freedesktop.DBus.Error.InvalidArgs"
)

// ProtocolError signals a malformed inbound frame, an unknown message kind,
// or a signature mismatch during translation (spec §7).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "dbus: protocol error: " + e.Reason }

// NameError signals a name that fails D-Bus naming rules (bus/interface/
// path/member).
type NameError struct {
	Kind string // "interface", "member", "path", "bus"
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("dbus: invalid %s name %q", e.Kind, e.Name)
}

// RoutingKind enumerates the server-side routing failures of spec §4.2.
type RoutingKind int

const (
	RoutingUnknownObject RoutingKind = iota
	RoutingUnknownInterface
	RoutingUnknownMethod
	RoutingUnknownService
)

// RoutingError is returned when service-side dispatch cannot resolve a
// path/interface/member to a handler; it carries enough to build the
// matching standard Error reply.
type RoutingError struct {
	Kind RoutingKind
	Text string
}

func (e *RoutingError) Error() string { return e.Text }

// ErrorName returns the standard D-Bus error name for e.
func (e *RoutingError) ErrorName() string {
	switch e.Kind {
	case RoutingUnknownObject:
		return ErrNameUnknownObject
	case RoutingUnknownInterface:
		return ErrNameUnknownInterface
	case RoutingUnknownMethod:
		return ErrNameUnknownMethod
	default:
		return ErrNameUnknownService
	}
}

func unknownObject(path string) *RoutingError {
	return &RoutingError{Kind: RoutingUnknownObject, Text: fmt.Sprintf("dbus: unknown object %q", path)}
}

func unknownInterface(path, iface string) *RoutingError {
	return &RoutingError{Kind: RoutingUnknownInterface, Text: fmt.Sprintf("dbus: object %q has no interface %q", path, iface)}
}

func unknownMethod(iface, member string) *RoutingError {
	return &RoutingError{Kind: RoutingUnknownMethod, Text: fmt.Sprintf("dbus: interface %q has no member %q", iface, member)}
}

func unknownService(name string) *RoutingError {
	return &RoutingError{Kind: RoutingUnknownService, Text: fmt.Sprintf("dbus: unknown service %q", name)}
}

// InvalidArgsError reports a Properties.Get/Set call naming a property that
// doesn't exist, or an otherwise malformed property argument (spec §4.4).
type InvalidArgsError struct {
	Text string
}

func (e *InvalidArgsError) Error() string { return e.Text }

func (e *InvalidArgsError) ErrorName() string { return ErrNameInvalidArgs }

func unknownProperty(iface, prop string) *InvalidArgsError {
	return &InvalidArgsError{Text: fmt.Sprintf("dbus: interface %q has no property %q", iface, prop)}
}

// PropertyAccessKind distinguishes the two ways a property access can be
// rejected.
type PropertyAccessKind int

const (
	PropertyReadOnly PropertyAccessKind = iota
	PropertyWriteOnly
)

// PropertyAccessError is returned by Get/Set when the property exists but
// the requested direction is not allowed (spec §4.4).
type PropertyAccessError struct {
	Kind      PropertyAccessKind
	Interface string
	Property  string
}

func (e *PropertyAccessError) Error() string {
	if e.Kind == PropertyReadOnly {
		return fmt.Sprintf("dbus: property %s.%s is read-only", e.Interface, e.Property)
	}
	return fmt.Sprintf("dbus: property %s.%s is write-only", e.Interface, e.Property)
}

func (e *PropertyAccessError) ErrorName() string {
	if e.Kind == PropertyReadOnly {
		return ErrNamePropertyReadOnly
	}
	return ErrNamePropertyWriteOnly
}

// RequestNameOutcome enumerates the results of a RequestName call (spec §6).
type RequestNameOutcome uint32

const (
	NamePrimaryOwner RequestNameOutcome = 1 + iota
	NameInQueue
	NameExists
	NameAlreadyOwner
)

// RequestNameError is returned for every RequestName outcome other than
// becoming the primary owner.
type RequestNameError struct {
	Outcome RequestNameOutcome
	Name    string
}

func (e *RequestNameError) Error() string {
	switch e.Outcome {
	case NameInQueue:
		return fmt.Sprintf("dbus: request for name %q queued, not owner", e.Name)
	case NameExists:
		return fmt.Sprintf("dbus: name %q already owned and DO_NOT_QUEUE set", e.Name)
	case NameAlreadyOwner:
		return fmt.Sprintf("dbus: already primary owner of name %q", e.Name)
	default:
		return fmt.Sprintf("dbus: unexpected RequestName outcome for %q", e.Name)
	}
}

// BusNotReadyError is returned when the initial Hello handshake does not
// complete within the configured timeout.
type BusNotReadyError struct {
	Timeout string
}

func (e *BusNotReadyError) Error() string {
	return "dbus: bus not ready after " + e.Timeout
}

// UserError wraps an error raised by a user method implementation. Kind is
// mapped to the dotted "org.freedesktop.DBus.<Kind>" error name sent on the
// wire (spec §7).
type UserError struct {
	Kind string
	Text string
}

func (e *UserError) Error() string { return e.Text }

func (e *UserError) ErrorName() string {
	if e.Kind == "" {
		return "org.freedesktop.DBus.Error.Failed"
	}
	return "org.freedesktop.DBus." + e.Kind
}

// NewUserError builds a UserError with the given Kind and Text.
func NewUserError(kind, text string) *UserError {
	return &UserError{Kind: kind, Text: text}
}

// errorNameFor picks the org.freedesktop.DBus error name a handler-returned
// error should be reported under (spec §4.1/§7). Errors that already name
// themselves via ErrorName() (RoutingError, PropertyAccessError, UserError,
// …) keep that name; anything else is mapped to
// org.freedesktop.DBus.<ErrorKindName> using err's dynamic Go type instead
// of collapsing every unrecognized error to a single generic Failed.
func errorNameFor(err error) string {
	if named, ok := err.(interface{ ErrorName() string }); ok {
		return named.ErrorName()
	}
	return (&UserError{Kind: dynamicErrorKind(err), Text: err.Error()}).ErrorName()
}

// dynamicErrorKind derives an ErrorKindName from err's dynamic Go type,
// e.g. *os.PathError yields "PathError". Unnamed or unexported types (such as
// the one a bare errors.New returns) fall back to "Error.Failed".
func dynamicErrorKind(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || !token.IsExported(t.Name()) {
		return "Error.Failed"
	}
	return t.Name()
}

// recoveredHandlerError converts a value recovered from a panicking method
// handler into a UserError reply instead of letting the panic cross the
// dispatch boundary (spec §4.1's handler-error condition, §7's "a handler
// that throws is caught").
func recoveredHandlerError(r interface{}) *UserError {
	if err, ok := r.(error); ok {
		return &UserError{Kind: dynamicErrorKind(err), Text: err.Error()}
	}
	return &UserError{Kind: "Error.Failed", Text: fmt.Sprintf("dbus: handler panicked: %v", r)}
}

// CancelledError is returned to a caller whose pending call was cancelled.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "dbus: call cancelled" }
