// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ipc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/rule"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	log "github.com/sirupsen/logrus"
)

const (
	// BusName is the well-known name owned by the agent.
	BusName = "io.execguard.Agent"
	// Interface is the rule manager interface name.
	Interface = "io.execguard.RuleManager1"
	// ObjectPath is where the rule manager is exported.
	ObjectPath = dbus.ObjectPath("/io/execguard/RuleManager")

	// ErrorInvalidArgs is returned for payloads that do not decode.
	ErrorInvalidArgs = "io.execguard.Error.InvalidArgs"

	rulesProperty = "Rules"
	rulesSignal   = "RulesChanged"

	defaultRequestTimeout = 10 * time.Second
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already taken")

// Connect opens the named bus, "system" or "session".
func Connect(bus string) (*dbus.Conn, error) {
	switch bus {
	case "", "system":
		return dbus.ConnectSystemBus()
	case "session":
		return dbus.ConnectSessionBus()
	}
	return nil, fmt.Errorf("unknown bus %q", bus)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Name overrides BusName.
	Name string
	// RequestTimeout bounds each store call made on behalf of a caller.
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
}

// Service is the D-Bus facade of the policy store. It forwards method
// calls to the store and mirrors the rule table in the Rules property
// from the notifications it is handed by the reconciliation loop.
type Service struct {
	conn    *dbus.Conn
	name    string
	methods *methods
	props   *prop.Properties

	mu    sync.Mutex
	rules map[rule.ID]rule.Rule
}

// methods holds the exported D-Bus methods. Every exported method of this
// type becomes a method of Interface.
type methods struct {
	store   policy.Manager
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewService creates an unexported service. conn may be nil, in which case
// Start must not be called; the rule mirror still works.
func NewService(conn *dbus.Conn, store policy.Manager, opts ServiceOptions) *Service {
	name := opts.Name
	if name == "" {
		name = BusName
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Service{
		conn: conn,
		name: name,
		methods: &methods{
			store:   store,
			timeout: timeout,
			metrics: opts.Metrics,
		},
		rules: make(map[rule.ID]rule.Rule),
	}
}

// Start exports the object, its properties and introspection data and
// claims the bus name.
func (s *Service) Start() error {
	if err := s.conn.Export(s.methods, ObjectPath, Interface); err != nil {
		return fmt.Errorf("failed to export %s: %w", Interface, err)
	}

	entries, err := s.entries()
	if err != nil {
		log.Warnf("Some rules are not representable on the bus: %v", err)
	}
	props, err := prop.Export(s.conn, ObjectPath, prop.Map{
		Interface: {
			rulesProperty: {
				Value:    entries,
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to export properties: %w", err)
	}
	s.mu.Lock()
	s.props = props
	s.mu.Unlock()

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       Interface,
				Methods:    introspect.Methods(s.methods),
				Properties: props.Introspection(Interface),
				Signals:    []introspect.Signal{{Name: rulesSignal}},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}

	reply, err := s.conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", s.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%w: %s", ErrNameTaken, s.name)
	}

	log.Infof("D-Bus service %s exported at %s", s.name, ObjectPath)
	return nil
}

// Sync replaces the mirror with a full snapshot. It is called once at
// startup with the rules restored from storage.
func (s *Service) Sync(rules []rule.WithID) {
	s.mu.Lock()
	s.rules = make(map[rule.ID]rule.Rule, len(rules))
	for _, r := range rules {
		s.rules[r.ID] = r.Rule
	}
	s.mu.Unlock()
	s.publish()
}

// RulesChanged updates the mirror from one store notification, refreshes
// the Rules property and emits the RulesChanged signal. It never calls
// back into the store.
func (s *Service) RulesChanged(n policy.Notification) {
	s.mu.Lock()
	switch n := n.(type) {
	case policy.RuleAdded:
		s.rules[n.ID] = n.Rule
	case policy.RuleRemoved:
		delete(s.rules, n.ID)
	case policy.RuleUpdated:
		s.rules[n.ID] = n.New
	}
	s.mu.Unlock()
	s.publish()
}

// Rules returns the mirrored rules ordered by ID.
func (s *Service) Rules() []rule.WithID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rule.WithID, 0, len(s.rules))
	for id, r := range s.rules {
		out = append(out, rule.WithID{ID: id, Rule: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) entries() ([]RuleEntry, error) {
	return EncodeEntries(s.Rules())
}

func (s *Service) publish() {
	s.mu.Lock()
	props := s.props
	s.mu.Unlock()
	if props == nil {
		return
	}

	entries, err := s.entries()
	if err != nil {
		log.Warnf("Some rules are not representable on the bus: %v", err)
	}
	props.SetMust(Interface, rulesProperty, entries)

	if err := s.conn.Emit(ObjectPath, Interface+"."+rulesSignal); err != nil {
		log.Warnf("Failed to emit %s: %v", rulesSignal, err)
	}
}

// Stop releases the bus name and closes the connection.
func (s *Service) Stop(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	var errs []error
	if _, err := s.conn.ReleaseName(s.name); err != nil {
		errs = append(errs, fmt.Errorf("failed to release %s: %w", s.name, err))
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Info("D-Bus service stopped")
	return errors.Join(errs...)
}

func (m *methods) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *methods) done(method string, err error) *dbus.Error {
	m.metrics.Request("dbus", method, err)
	if err == nil {
		return nil
	}
	log.WithField("method", method).Debugf("D-Bus call failed: %v", err)
	if errors.Is(err, ErrInvalidWire) {
		return dbus.NewError(ErrorInvalidArgs, []interface{}{err.Error()})
	}
	return dbus.MakeFailedError(err)
}

// AddRule stores a new rule and returns its ID.
func (m *methods) AddRule(w WireRule) (uint64, *dbus.Error) {
	r, err := DecodeRule(w)
	if err != nil {
		return 0, m.done("AddRule", err)
	}
	ctx, cancel := m.context()
	defer cancel()

	id, err := m.store.AddRule(ctx, r)
	return id, m.done("AddRule", err)
}

// UpdateRule replaces the content of a rule.
func (m *methods) UpdateRule(id uint64, w WireRule) *dbus.Error {
	r, err := DecodeRule(w)
	if err != nil {
		return m.done("UpdateRule", err)
	}
	ctx, cancel := m.context()
	defer cancel()

	return m.done("UpdateRule", m.store.UpdateRule(ctx, id, r))
}

func (m *methods) EnableRule(id uint64) *dbus.Error {
	ctx, cancel := m.context()
	defer cancel()

	return m.done("EnableRule", m.store.EnableRule(ctx, id))
}

func (m *methods) DisableRule(id uint64) *dbus.Error {
	ctx, cancel := m.context()
	defer cancel()

	return m.done("DisableRule", m.store.DisableRule(ctx, id))
}

// RemoveRule is fire-and-forget on the store side: it succeeds for
// unknown IDs.
func (m *methods) RemoveRule(id uint64) *dbus.Error {
	ctx, cancel := m.context()
	defer cancel()

	return m.done("RemoveRule", m.store.RemoveRule(ctx, id))
}
