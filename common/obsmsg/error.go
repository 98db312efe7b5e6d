/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obsmsg

import "fmt"

// Severity tags carried on response errors.
type Severity int

const (
	// SeverityNormal marks transient or client-induced failures.
	SeverityNormal Severity = iota

	// SeverityTemporary means the upstream is momentarily unavailable and
	// the client may retry.
	SeverityTemporary

	// SeverityCritical marks a tree-level defect operators should see.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "NORMAL"
	case SeverityTemporary:
		return "TEMPORARY"
	case SeverityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b Severity) bool {
	return a > b
}

// Error codes grouped by kind.  Address errors cover malformed or
// non-routable addresses, value errors cover producers that declined to
// yield a value, and the 3xxx/4xxx codes cover infrastructure conditions.
const (
	CodeNoCommand     = 1001 // address exhausted before a command was found
	CodeUnknownTarget = 1002 // no component answers to this segment
	CodeBadArguments  = 1003 // wrong argument types for the operation
	CodeAccessDenied  = 1004 // rejected by a request blocker

	CodeNoValue       = 2002 // producer could not create a value
	CodeRefreshBudget = 2003 // refresh retry budget exhausted

	CodeNoSubcontractor  = 3001 // component declined and has nowhere to delegate
	CodeBadSubcontractor = 3002 // subcontractor is not a responder

	CodeUnknownRequest     = 4001 // unknown request type or undecodable request
	CodeResolverFault      = 4002 // resolver-level failure
	CodeUncacheableCycle   = 4003 // cycle query for a non-cacheable address
	CodeAlarmTimeout       = 4004 // freezer gave up before the deadline
	CodeUpstreamUnavail    = 4005 // connection or deadline failure upstream
	CodeRefreshInterrupted = 4006 // refresh cut off with time still on the clock
	CodeMissingParameter   = 4007 // required request parameter absent
)

// Error is the typed failure attached to a ValueResponse.  It doubles as the
// error value components raise internally; the provider frame converts it
// into a failure response without losing the code or severity.
type Error struct {
	Code     int      `msgpack:"code"`
	Msg      string   `msgpack:"msg"`
	Source   string   `msgpack:"source"`
	Severity Severity `msgpack:"severity"`

	// Refreshes rides along on alarm-timeout errors so a client can resume
	// a subscription without resetting the server-side retry budget.
	Refreshes int `msgpack:"nr_of_unsuccessful_refreshes,omitempty"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("tree error %d (%s)", e.Code, e.Severity)
	}
	return fmt.Sprintf("tree error %d (%s): %s", e.Code, e.Severity, e.Msg)
}

// AddressErr builds an address-kind error (codes 1001-1099).
func AddressErr(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg, Severity: SeverityNormal}
}

// ValueErr builds a value-kind error (codes 2001-2099).
func ValueErr(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg, Severity: SeverityNormal}
}

// OtherErr builds an infrastructure error with an explicit severity.
func OtherErr(code int, msg string, sev Severity) *Error {
	return &Error{Code: code, Msg: msg, Severity: sev}
}

// WithSource stamps the reporting component's name onto the error and
// returns it for chaining.
func (e *Error) WithSource(src string) *Error {
	if e.Source == "" {
		e.Source = src
	}
	return e
}
