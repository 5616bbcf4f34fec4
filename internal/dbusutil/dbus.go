// Package dbusutil is a thin wrapper around godbus/dbus/v5 exposing the
// DBus transport alternative named in spec §1/§6 as an external
// collaborator. Only connect/call/own-name/emit-signal/export are implemented;
// DBus itself is out of scope for deep implementation — this package exists
// so a deployment can expose vasum's control surface over the system bus
// alongside the primary AF_UNIX control socket, without vasum depending on
// DBus for anything internal.
package dbusutil

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Conn wraps a godbus system-bus connection.
type Conn struct {
	conn *dbus.Conn
}

// ConnectSystemBus dials the system bus.
func ConnectSystemBus() (*Conn, error) {
	c, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbusutil: connect system bus: %w", err)
	}
	return &Conn{conn: c}, nil
}

// RequestName acquires a well-known bus name (e.g. "org.tizen.vasum").
func (c *Conn) RequestName(name string) error {
	reply, err := c.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("dbusutil: request name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("dbusutil: name %s already owned", name)
	}
	return nil
}

// Call invokes method on objectPath/iface, blocking for a reply.
func (c *Conn) Call(dest, objectPath, method string, args ...interface{}) ([]interface{}, error) {
	obj := c.conn.Object(dest, dbus.ObjectPath(objectPath))
	call := obj.Call(method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("dbusutil: call %s: %w", method, call.Err)
	}
	return call.Body, nil
}

// Emit broadcasts a signal on objectPath/iface.member.
func (c *Conn) Emit(objectPath, ifaceMember string, args ...interface{}) error {
	if err := c.conn.Emit(dbus.ObjectPath(objectPath), ifaceMember, args...); err != nil {
		return fmt.Errorf("dbusutil: emit %s: %w", ifaceMember, err)
	}
	return nil
}

// Export registers v's exported methods on objectPath under iface.
func (c *Conn) Export(v interface{}, objectPath, iface string) error {
	return c.conn.Export(v, dbus.ObjectPath(objectPath), iface)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }
