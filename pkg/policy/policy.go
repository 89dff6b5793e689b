// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/execguard/agent/pkg/actor"
	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/rule"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrRuleNotFound is returned for operations on an unknown rule ID.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule matches every *DuplicateRuleError.
	ErrDuplicateRule = errors.New("duplicate rule")
)

// DuplicateRuleError reports that a rule with identical content already
// exists under ID.
type DuplicateRuleError struct {
	ID rule.ID
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule: identical to rule %d", e.ID)
}

func (e *DuplicateRuleError) Is(target error) bool {
	return target == ErrDuplicateRule
}

func notFound(id rule.ID) error {
	return fmt.Errorf("%w: id=%d", ErrRuleNotFound, id)
}

// Options configures a Store.
type Options struct {
	// Capacity bounds both the request mailbox and the notification
	// stream. Zero selects actor.DefaultCapacity.
	Capacity int

	// Storage persists rules when set.
	Storage Storage

	Metrics *metrics.Metrics
}

// Store is the policy store actor.
type Store struct {
	mb            *actor.Mailbox[request]
	notifications chan Notification
	storage       Storage

	// table is only touched here once the actor has exited.
	table     *table
	closeOnce sync.Once
}

type table struct {
	rules   map[rule.ID]rule.Rule
	nextID  rule.ID
	storage Storage
	notify  chan<- Notification
	metrics *metrics.Metrics

	// unsaved holds IDs whose last write failed. counterBehind is set
	// when the persisted counter may be lower than nextID.
	unsaved       map[rule.ID]struct{}
	counterBehind bool
}

type request interface{ isRequest() }

type addRequest struct {
	rule  rule.Rule
	reply actor.Reply[rule.ID]
}

type removeRequest struct {
	id rule.ID
}

type updateRequest struct {
	id    rule.ID
	rule  rule.Rule
	reply actor.Reply[struct{}]
}

type setActiveRequest struct {
	id     rule.ID
	active bool
	reply  actor.Reply[struct{}]
}

type getRequest struct {
	id    rule.ID
	reply actor.Reply[rule.Rule]
}

type listRequest struct {
	reply actor.Reply[[]rule.WithID]
}

func (addRequest) isRequest()       {}
func (removeRequest) isRequest()    {}
func (updateRequest) isRequest()    {}
func (setActiveRequest) isRequest() {}
func (getRequest) isRequest()       {}
func (listRequest) isRequest()      {}

// NewStore creates the store, restores persisted rules if a Storage is
// configured and starts the actor. Restored rules do not produce
// notifications; use GetRules to resynchronize consumers.
func NewStore(opts Options) (*Store, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = actor.DefaultCapacity
	}

	notifications := make(chan Notification, capacity)
	t := &table{
		rules:   make(map[rule.ID]rule.Rule),
		storage: opts.Storage,
		notify:  notifications,
		metrics: opts.Metrics,
		unsaved: make(map[rule.ID]struct{}),
	}

	if opts.Storage != nil {
		if err := t.restore(); err != nil {
			return nil, err
		}
	}
	t.updateMetrics()

	return &Store{
		mb:            actor.Start(t, handle, capacity),
		notifications: notifications,
		storage:       opts.Storage,
		table:         t,
	}, nil
}

func (t *table) restore() error {
	persisted, err := t.storage.LoadRules()
	if err != nil {
		return fmt.Errorf("failed to load rules from storage: %w", err)
	}
	next, err := t.storage.NextRuleID()
	if err != nil {
		return fmt.Errorf("failed to load rule id counter: %w", err)
	}

	for _, r := range persisted {
		t.rules[r.ID] = r.Rule
		if r.ID >= next {
			next = r.ID + 1
		}
	}
	t.nextID = next

	log.Infof("Restored %d rules from storage, next rule id %d", len(persisted), next)
	return nil
}

// Notifications returns the change stream. It has exactly one consumer,
// the reconciliation loop.
func (s *Store) Notifications() <-chan Notification {
	return s.notifications
}

// AddRule inserts r and returns its new ID.
func (s *Store) AddRule(ctx context.Context, r rule.Rule) (rule.ID, error) {
	return actor.PostAndReply(ctx, s.mb, func(reply actor.Reply[rule.ID]) request {
		return addRequest{rule: r, reply: reply}
	})
}

// RemoveRule deletes the rule if it exists. It does not wait for the
// store to process the request; the returned error only reports a failure
// to enqueue it.
func (s *Store) RemoveRule(ctx context.Context, id rule.ID) error {
	return s.mb.PostAndForget(ctx, removeRequest{id: id})
}

// UpdateRule replaces the content of rule id.
func (s *Store) UpdateRule(ctx context.Context, id rule.ID, r rule.Rule) error {
	_, err := actor.PostAndReply(ctx, s.mb, func(reply actor.Reply[struct{}]) request {
		return updateRequest{id: id, rule: r, reply: reply}
	})
	return err
}

// EnableRule marks rule id active.
func (s *Store) EnableRule(ctx context.Context, id rule.ID) error {
	return s.setActive(ctx, id, true)
}

// DisableRule marks rule id inactive.
func (s *Store) DisableRule(ctx context.Context, id rule.ID) error {
	return s.setActive(ctx, id, false)
}

func (s *Store) setActive(ctx context.Context, id rule.ID, active bool) error {
	_, err := actor.PostAndReply(ctx, s.mb, func(reply actor.Reply[struct{}]) request {
		return setActiveRequest{id: id, active: active, reply: reply}
	})
	return err
}

// GetRule returns a copy of rule id.
func (s *Store) GetRule(ctx context.Context, id rule.ID) (rule.Rule, error) {
	return actor.PostAndReply(ctx, s.mb, func(reply actor.Reply[rule.Rule]) request {
		return getRequest{id: id, reply: reply}
	})
}

// GetRules returns a snapshot of the rule table ordered by ID.
func (s *Store) GetRules(ctx context.Context) ([]rule.WithID, error) {
	return actor.PostAndReply(ctx, s.mb, func(reply actor.Reply[[]rule.WithID]) request {
		return listRequest{reply: reply}
	})
}

// Stop terminates the store actor, retries writes that failed earlier and
// closes its storage.
func (s *Store) Stop(ctx context.Context) error {
	if err := s.mb.Stop(ctx); err != nil {
		return err
	}
	var err error
	s.closeOnce.Do(func() {
		if s.storage == nil {
			return
		}
		s.table.flush()
		err = s.storage.Close()
	})
	return err
}

func handle(ctx context.Context, t *table, req request) *table {
	t.flush()

	switch req := req.(type) {
	case addRequest:
		id, err := t.add(ctx, req.rule)
		req.reply.Send(id, err)
	case removeRequest:
		t.remove(ctx, req.id)
	case updateRequest:
		req.reply.Send(struct{}{}, t.update(ctx, req.id, req.rule))
	case setActiveRequest:
		req.reply.Send(struct{}{}, t.setActive(ctx, req.id, req.active))
	case getRequest:
		r, ok := t.rules[req.id]
		if !ok {
			req.reply.Err(notFound(req.id))
			break
		}
		req.reply.Send(r, nil)
	case listRequest:
		req.reply.Send(t.snapshot(), nil)
	}
	return t
}

// duplicateOf returns the ID of another rule with the same content as r.
func (t *table) duplicateOf(r rule.Rule, except rule.ID) (rule.ID, bool) {
	for id, existing := range t.rules {
		if id != except && existing.Equal(r) {
			return id, true
		}
	}
	return 0, false
}

func (t *table) add(ctx context.Context, r rule.Rule) (rule.ID, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	for id, existing := range t.rules {
		if existing.Equal(r) {
			return 0, &DuplicateRuleError{ID: id}
		}
	}

	id := t.nextID
	t.nextID++
	t.rules[id] = r
	t.persist(id, r)

	log.WithFields(log.Fields{"rule_id": id, "rule": r}).Info("Rule added")
	t.emit(ctx, RuleAdded{ID: id, Rule: r})
	return id, nil
}

func (t *table) remove(ctx context.Context, id rule.ID) {
	r, ok := t.rules[id]
	if !ok {
		log.Debugf("Remove of unknown rule %d ignored", id)
		return
	}

	delete(t.rules, id)
	t.unpersist(id)

	log.WithFields(log.Fields{"rule_id": id, "rule": r}).Info("Rule removed")
	t.emit(ctx, RuleRemoved{ID: id, Rule: r})
}

func (t *table) update(ctx context.Context, id rule.ID, r rule.Rule) error {
	if _, ok := t.rules[id]; !ok {
		return notFound(id)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return t.replace(ctx, id, r)
}

func (t *table) setActive(ctx context.Context, id rule.ID, active bool) error {
	old, ok := t.rules[id]
	if !ok {
		return notFound(id)
	}
	return t.replace(ctx, id, old.WithActive(active))
}

func (t *table) replace(ctx context.Context, id rule.ID, r rule.Rule) error {
	if dup, ok := t.duplicateOf(r, id); ok {
		return &DuplicateRuleError{ID: dup}
	}

	old := t.rules[id]
	t.rules[id] = r
	t.persist(id, r)

	log.WithFields(log.Fields{"rule_id": id, "old": old, "new": r}).Info("Rule updated")
	t.emit(ctx, RuleUpdated{ID: id, Old: old, New: r})
	return nil
}

func (t *table) persist(id rule.ID, r rule.Rule) {
	if t.storage == nil {
		return
	}
	if err := t.storage.SaveRule(id, r); err != nil {
		log.Warnf("Failed to persist rule rule_id=%d: %v", id, err)
		t.unsaved[id] = struct{}{}
		t.counterBehind = true
		return
	}
	delete(t.unsaved, id)
}

func (t *table) unpersist(id rule.ID) {
	if t.storage == nil {
		return
	}
	err := t.storage.DeleteRule(id)
	switch {
	case err == nil, errors.Is(err, ErrRuleNotFound):
		delete(t.unsaved, id)
	default:
		log.Warnf("Failed to delete persisted rule rule_id=%d: %v", id, err)
		t.unsaved[id] = struct{}{}
	}
}

// flush retries failed writes and catches the persisted ID counter up
// with nextID, so an ID handed out while storage was failing is not
// handed out again after a restart.
func (t *table) flush() {
	if t.storage == nil || (len(t.unsaved) == 0 && !t.counterBehind) {
		return
	}

	for id := range t.unsaved {
		var err error
		if r, ok := t.rules[id]; ok {
			err = t.storage.SaveRule(id, r)
		} else if err = t.storage.DeleteRule(id); errors.Is(err, ErrRuleNotFound) {
			err = nil
		}
		if err != nil {
			log.Debugf("Rule rule_id=%d still not persisted: %v", id, err)
			continue
		}
		delete(t.unsaved, id)
		log.Infof("Persisted rule rule_id=%d after earlier failure", id)
	}

	if t.counterBehind {
		if err := t.storage.ReserveRuleID(t.nextID); err != nil {
			log.Debugf("Rule id counter still not persisted: %v", err)
			return
		}
		t.counterBehind = false
	}
}

// emit publishes n on the notification stream. It blocks while the stream
// is full unless the store is stopping.
func (t *table) emit(ctx context.Context, n Notification) {
	t.updateMetrics()

	select {
	case t.notify <- n:
		t.metrics.Notification(n.Kind())
	case <-ctx.Done():
		log.Warnf("Store stopping, dropped %s notification for rule %d", n.Kind(), n.RuleID())
	}
}

func (t *table) snapshot() []rule.WithID {
	out := make([]rule.WithID, 0, len(t.rules))
	for id, r := range t.rules {
		out = append(out, rule.WithID{ID: id, Rule: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *table) updateMetrics() {
	active := 0
	for _, r := range t.rules {
		if r.IsActive {
			active++
		}
	}
	t.metrics.SetRuleCounts(active, len(t.rules)-active)
}
