// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/execguard/agent/pkg/api/handlers"
	"github.com/execguard/agent/pkg/ipc"
	"github.com/execguard/agent/pkg/rule"
	"github.com/spf13/cobra"
)

var (
	clientBus     string
	clientName    string
	clientTimeout time.Duration

	ruleName     string
	ruleInode    uint64
	rulePath     string
	ruleAddress  string
	ruleLimit    time.Duration
	ruleSchedule []string
	ruleInactive bool
	listJSON     bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rules of a running agent over D-Bus",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *ipc.Client, args []string) error {
		rules, err := c.Rules(ctx)
		if err != nil {
			return err
		}
		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rules)
		}
		printRules(rules)
		return nil
	}),
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule blocking a program (--inode/--path) or an address (--address)",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *ipc.Client, args []string) error {
		r, err := ruleFromFlags()
		if err != nil {
			return err
		}
		id, err := c.AddRule(ctx, r)
		if err != nil {
			return err
		}
		fmt.Printf("Added rule %d\n", id)
		return nil
	}),
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Activate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withID(func(ctx context.Context, c *ipc.Client, id rule.ID) error {
		return c.EnableRule(ctx, id)
	}),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withID(func(ctx context.Context, c *ipc.Client, id rule.ID) error {
		return c.DisableRule(ctx, id)
	}),
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withID(func(ctx context.Context, c *ipc.Client, id rule.ID) error {
		return c.RemoveRule(ctx, id)
	}),
}

var rulesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the rule table every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := ipc.Connect(clientBus)
		if err != nil {
			return err
		}
		c := ipc.NewClient(conn, clientName)
		defer c.Close()

		ctx := cmd.Context()
		changes, err := c.WatchRulesChanged(ctx)
		if err != nil {
			return err
		}
		for range changes {
			rctx, cancel := context.WithTimeout(ctx, clientTimeout)
			rules, err := c.Rules(rctx)
			cancel()
			if err != nil {
				return err
			}
			fmt.Printf("--- %s\n", time.Now().Format(time.RFC3339))
			printRules(rules)
		}
		return nil
	},
}

func init() {
	pf := rulesCmd.PersistentFlags()
	pf.StringVar(&clientBus, "bus", "system", "D-Bus bus the agent is on (system, session)")
	pf.StringVar(&clientName, "bus-name", ipc.BusName, "Bus name of the agent")
	pf.DurationVar(&clientTimeout, "timeout", 10*time.Second, "Call timeout")

	rulesListCmd.Flags().BoolVar(&listJSON, "json", false, "Print rules as JSON")

	f := rulesAddCmd.Flags()
	f.StringVar(&ruleName, "name", "", "Rule name")
	f.Uint64Var(&ruleInode, "inode", 0, "Inode of the program to block")
	f.StringVar(&rulePath, "path", "", "Path of the program to block, resolved to its inode locally")
	f.StringVar(&ruleAddress, "address", "", "IPv4 or IPv6 address to block")
	f.DurationVar(&ruleLimit, "limit", 0, "Time-limited filter duration")
	f.StringSliceVar(&ruleSchedule, "schedule", nil, "Scheduled filter windows, HH:MM:SS-HH:MM:SS")
	f.BoolVar(&ruleInactive, "inactive", false, "Add the rule disabled")
	_ = rulesAddCmd.MarkFlagRequired("name")
	rulesAddCmd.MarkFlagsMutuallyExclusive("inode", "path", "address")
	rulesAddCmd.MarkFlagsOneRequired("inode", "path", "address")
	rulesAddCmd.MarkFlagsMutuallyExclusive("limit", "schedule")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd, rulesRemoveCmd, rulesWatchCmd)
}

func withClient(fn func(ctx context.Context, c *ipc.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		conn, err := ipc.Connect(clientBus)
		if err != nil {
			return err
		}
		c := ipc.NewClient(conn, clientName)
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
		defer cancel()
		return fn(ctx, c, args)
	}
}

func withID(fn func(ctx context.Context, c *ipc.Client, id rule.ID) error) func(*cobra.Command, []string) error {
	return withClient(func(ctx context.Context, c *ipc.Client, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		return fn(ctx, c, id)
	})
}

func parseSchedule(windows []string) ([]rule.TimeSlice, error) {
	slices := make([]rule.TimeSlice, 0, len(windows))
	for _, w := range windows {
		start, end, ok := strings.Cut(w, "-")
		if !ok {
			return nil, fmt.Errorf("schedule window %q is not START-END", w)
		}
		s, err := rule.ParseTimeOfDay(start)
		if err != nil {
			return nil, err
		}
		e, err := rule.ParseTimeOfDay(end)
		if err != nil {
			return nil, err
		}
		slices = append(slices, rule.TimeSlice{Start: s, End: e})
	}
	return slices, nil
}

func ruleFromFlags() (rule.Rule, error) {
	var filter rule.Filter = rule.Basic{}
	switch {
	case ruleLimit > 0:
		filter = rule.TimeLimited{Limit: ruleLimit}
	case len(ruleSchedule) > 0:
		slices, err := parseSchedule(ruleSchedule)
		if err != nil {
			return rule.Rule{}, err
		}
		filter = rule.Scheduled{Slices: slices}
	}

	var module rule.Module
	switch {
	case ruleAddress != "":
		addr, err := netip.ParseAddr(ruleAddress)
		if err != nil {
			return rule.Rule{}, err
		}
		module = rule.NetworkMonitor{ModuleRule: rule.ModuleRule{Filter: filter, Action: rule.BlockAddress{Addr: addr}}}
	case rulePath != "" || ruleInode != 0:
		inode := ruleInode
		if rulePath != "" {
			resolved, err := handlers.StatInode(rulePath)
			if err != nil {
				return rule.Rule{}, err
			}
			inode = resolved
		}
		module = rule.ProgramMonitor{ModuleRule: rule.ModuleRule{Filter: filter, Action: rule.BlockProgramExecution{Inode: inode}}}
	default:
		return rule.Rule{}, errors.New("one of --inode, --path or --address is required")
	}

	r := rule.Rule{Name: ruleName, IsActive: !ruleInactive, Module: module}
	return r, r.Validate()
}

func printRules(rules []rule.WithID) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tMODULE\tFILTER\tACTION")
	for _, r := range rules {
		spec := r.Rule.Module.Spec()
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n",
			r.ID, r.Rule.Name, r.Rule.IsActive, r.Rule.Module.Kind(), spec.Filter.Kind(), spec.Action)
	}
	w.Flush()
}
