// Package ipc exposes the policy store over D-Bus and provides the
// matching client.
//
// The service owns the bus name io.execguard.Agent and exports
// /io/execguard/RuleManager with interface io.execguard.RuleManager1:
//
//	AddRule((sb(yv)) rule) -> (t id)
//	UpdateRule(t id, (sb(yv)) rule)
//	EnableRule(t id)
//	DisableRule(t id)
//	RemoveRule(t id)
//	property Rules a(t(sb(yv)))   read-only, emits PropertiesChanged
//	signal RulesChanged()
//
// # Wire Format
//
// Tagged unions travel as an envelope (y case, v payload):
//
//	Filter  0 Basic        payload y (ignored)
//	        1 TimeLimited  payload at  [seconds, nanoseconds]
//	        2 Scheduled    payload a(ss) of "HH:MM:SS" pairs
//	Action  0 BlockProgramExecution  payload t inode
//	        1 BlockAddress           payload s textual IP
//	Module  0 ProgramMonitor  payload ((yv)(yv)) filter, action
//	        1 NetworkMonitor  payload ((yv)(yv)) filter, action
//
// Payloads that do not decode are rejected with
// io.execguard.Error.InvalidArgs before the store sees them. Store errors
// are returned as org.freedesktop.DBus.Error.Failed carrying the message.
package ipc
