// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ipc

import (
	"context"
	"fmt"

	"github.com/execguard/agent/pkg/rule"
	"github.com/godbus/dbus/v5"
)

// Client calls a running agent over D-Bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewClient returns a client for the agent owning name (BusName when
// empty) on conn.
func NewClient(conn *dbus.Conn, name string) *Client {
	if name == "" {
		name = BusName
	}
	return &Client{conn: conn, obj: conn.Object(name, ObjectPath)}
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	return c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
}

// AddRule submits r and returns its ID.
func (c *Client) AddRule(ctx context.Context, r rule.Rule) (rule.ID, error) {
	w, err := EncodeRule(r)
	if err != nil {
		return 0, err
	}
	var id uint64
	if err := c.call(ctx, "AddRule", w).Store(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRule replaces the content of rule id.
func (c *Client) UpdateRule(ctx context.Context, id rule.ID, r rule.Rule) error {
	w, err := EncodeRule(r)
	if err != nil {
		return err
	}
	return c.call(ctx, "UpdateRule", id, w).Err
}

// EnableRule activates rule id.
func (c *Client) EnableRule(ctx context.Context, id rule.ID) error {
	return c.call(ctx, "EnableRule", id).Err
}

// DisableRule deactivates rule id.
func (c *Client) DisableRule(ctx context.Context, id rule.ID) error {
	return c.call(ctx, "DisableRule", id).Err
}

// RemoveRule deletes rule id.
func (c *Client) RemoveRule(ctx context.Context, id rule.ID) error {
	return c.call(ctx, "RemoveRule", id).Err
}

// Rules reads the Rules property.
func (c *Client) Rules(ctx context.Context) ([]rule.WithID, error) {
	var v dbus.Variant
	err := c.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, Interface, rulesProperty).Store(&v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rulesProperty, err)
	}
	var entries []RuleEntry
	if err := dbus.Store([]interface{}{v.Value()}, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", rulesProperty, err)
	}
	return DecodeEntries(entries)
}

// WatchRulesChanged delivers one value per RulesChanged signal until ctx
// is done.
func (c *Client) WatchRulesChanged(ctx context.Context) (<-chan struct{}, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember(rulesSignal),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", rulesSignal, err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path != ObjectPath || sig.Name != Interface+"."+rulesSignal {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
