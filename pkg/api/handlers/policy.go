// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/execguard/agent/pkg/actor"
	"github.com/execguard/agent/pkg/api/models"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/rule"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// InodeResolver maps a program path to its inode.
type InodeResolver func(path string) (uint64, error)

// StatInode resolves path with stat(2), following symlinks.
func StatInode(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return st.Ino, nil
}

// RuleHandler handles rule management requests
type RuleHandler struct {
	store   policy.Manager
	resolve InodeResolver
}

// NewRuleHandler creates a new rule handler. A nil resolver selects
// StatInode.
func NewRuleHandler(store policy.Manager, resolve InodeResolver) *RuleHandler {
	if resolve == nil {
		resolve = StatInode
	}
	return &RuleHandler{
		store:   store,
		resolve: resolve,
	}
}

func validationError(c *gin.Context, message string, err error) {
	var details interface{}
	if err != nil {
		details = err.Error()
	}
	c.JSON(http.StatusBadRequest, models.NewErrorResponse(
		http.StatusBadRequest,
		models.ErrValidation,
		message,
		details,
	))
}

// storeError maps a store error onto a status code and writes it.
func storeError(c *gin.Context, message string, err error) {
	var dup *policy.DuplicateRuleError

	switch {
	case errors.Is(err, rule.ErrInvalidRule):
		validationError(c, message, err)
	case errors.Is(err, policy.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, models.NewErrorResponse(
			http.StatusNotFound,
			models.ErrNotFound,
			message,
			err.Error(),
		))
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, models.NewErrorResponse(
			http.StatusConflict,
			models.ErrDuplicate,
			message,
			models.DuplicateDetails{ExistingID: dup.ID},
		))
	case errors.Is(err, actor.ErrMailboxClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		log.Warnf("%s: %v", message, err)
		c.JSON(http.StatusServiceUnavailable, models.NewErrorResponse(
			http.StatusServiceUnavailable,
			models.ErrStoreUnavailable,
			message,
			err.Error(),
		))
	default:
		log.Errorf("%s: %v", message, err)
		c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
			http.StatusInternalServerError,
			models.ErrPolicy,
			message,
			err.Error(),
		))
	}
}

func parseID(c *gin.Context) (rule.ID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		validationError(c, "Invalid rule ID", err)
		return 0, false
	}
	return id, true
}

// toRule converts a request into a rule. Semantic checks beyond shape are
// left to the store.
func (h *RuleHandler) toRule(req models.RuleRequest) (rule.Rule, error) {
	var filter rule.Filter
	switch req.Module.Filter.Type {
	case "", rule.FilterBasic.String():
		filter = rule.Basic{}
	case rule.FilterTimeLimited.String():
		limit, err := time.ParseDuration(req.Module.Filter.Limit)
		if err != nil {
			return rule.Rule{}, fmt.Errorf("invalid limit: %w", err)
		}
		filter = rule.TimeLimited{Limit: limit}
	case rule.FilterScheduled.String():
		slices := make([]rule.TimeSlice, 0, len(req.Module.Filter.Slices))
		for _, s := range req.Module.Filter.Slices {
			start, err := rule.ParseTimeOfDay(s.Start)
			if err != nil {
				return rule.Rule{}, err
			}
			end, err := rule.ParseTimeOfDay(s.End)
			if err != nil {
				return rule.Rule{}, err
			}
			slices = append(slices, rule.TimeSlice{Start: start, End: end})
		}
		filter = rule.Scheduled{Slices: slices}
	}

	var action rule.Action
	a := req.Module.Action
	switch a.Type {
	case rule.ActionBlockProgramExecution.String():
		inode := a.Inode
		switch {
		case a.Path != "" && a.Inode != 0:
			return rule.Rule{}, errors.New("give either inode or path, not both")
		case a.Path != "":
			resolved, err := h.resolve(a.Path)
			if err != nil {
				return rule.Rule{}, err
			}
			inode = resolved
		case a.Inode == 0:
			return rule.Rule{}, errors.New("inode or path is required")
		}
		action = rule.BlockProgramExecution{Inode: inode}
	case rule.ActionBlockAddress.String():
		addr, err := netip.ParseAddr(a.Address)
		if err != nil {
			return rule.Rule{}, fmt.Errorf("invalid address: %w", err)
		}
		action = rule.BlockAddress{Addr: addr}
	}

	mr := rule.ModuleRule{Filter: filter, Action: action}
	var module rule.Module
	if req.Module.Type == rule.ModuleNetworkMonitor.String() {
		module = rule.NetworkMonitor{ModuleRule: mr}
	} else {
		module = rule.ProgramMonitor{ModuleRule: mr}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return rule.Rule{Name: req.Name, IsActive: active, Module: module}, nil
}

func (h *RuleHandler) bind(c *gin.Context) (rule.Rule, bool) {
	var req models.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "Invalid request body", err)
		return rule.Rule{}, false
	}
	r, err := h.toRule(req)
	if err != nil {
		validationError(c, "Invalid rule", err)
		return rule.Rule{}, false
	}
	return r, true
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(c *gin.Context) {
	r, ok := h.bind(c)
	if !ok {
		return
	}

	id, err := h.store.AddRule(c.Request.Context(), r)
	if err != nil {
		storeError(c, "Failed to add rule", err)
		return
	}

	c.JSON(http.StatusCreated, models.RuleResponse{ID: id, Rule: r})
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(c *gin.Context) {
	rules, err := h.store.GetRules(c.Request.Context())
	if err != nil {
		storeError(c, "Failed to list rules", err)
		return
	}

	response := models.RuleListResponse{
		Rules: make([]models.RuleResponse, 0, len(rules)),
	}
	for _, r := range rules {
		response.Rules = append(response.Rules, models.RuleResponse{ID: r.ID, Rule: r.Rule})
	}
	response.Count = len(response.Rules)

	c.JSON(http.StatusOK, response)
}

// GetRule handles GET /api/v1/rules/:id
func (h *RuleHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	r, err := h.store.GetRule(c.Request.Context(), id)
	if err != nil {
		storeError(c, fmt.Sprintf("Rule %d not available", id), err)
		return
	}

	c.JSON(http.StatusOK, models.RuleResponse{ID: id, Rule: r})
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	r, ok := h.bind(c)
	if !ok {
		return
	}

	if err := h.store.UpdateRule(c.Request.Context(), id, r); err != nil {
		storeError(c, fmt.Sprintf("Failed to update rule %d", id), err)
		return
	}

	c.JSON(http.StatusOK, models.RuleResponse{ID: id, Rule: r})
}

// DeleteRule handles DELETE /api/v1/rules/:id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	// Removal itself is fire-and-forget; look the rule up first so unknown
	// IDs still get a 404.
	ctx := c.Request.Context()
	if _, err := h.store.GetRule(ctx, id); err != nil {
		storeError(c, fmt.Sprintf("Rule %d not available", id), err)
		return
	}
	if err := h.store.RemoveRule(ctx, id); err != nil {
		storeError(c, fmt.Sprintf("Failed to remove rule %d", id), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Rule %d removed", id),
	})
}

// EnableRule handles POST /api/v1/rules/:id/enable
func (h *RuleHandler) EnableRule(c *gin.Context) {
	h.setActive(c, true)
}

// DisableRule handles POST /api/v1/rules/:id/disable
func (h *RuleHandler) DisableRule(c *gin.Context) {
	h.setActive(c, false)
}

func (h *RuleHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var err error
	if active {
		err = h.store.EnableRule(ctx, id)
	} else {
		err = h.store.DisableRule(ctx, id)
	}
	if err != nil {
		storeError(c, fmt.Sprintf("Failed to set rule %d active=%t", id, active), err)
		return
	}

	r, err := h.store.GetRule(ctx, id)
	if err != nil {
		storeError(c, fmt.Sprintf("Rule %d not available", id), err)
		return
	}
	c.JSON(http.StatusOK, models.RuleResponse{ID: id, Rule: r})
}
