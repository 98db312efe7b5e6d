/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obstree

import (
	"context"

	"obs/common/obsmsg"
)

// AccessGrantor manages reservations on a target blocker through address
// commands:
//
//	take_control            reserve access for the requesting user; the
//	                        timeout_reservation parameter sets the deadline
//	return_control          give up the user's own reservation
//	break_control           cancel the current reservation, whoever holds it
//	current_user            report the current holder
//	timeout_current_control report the current reservation deadline
//	is_access               report whether the requesting user has control
type AccessGrantor struct {
	Provider
	blocker *RequestBlocker
}

// NewAccessGrantor builds a grantor answering to sourceName and operating
// on blocker.
func NewAccessGrantor(name, sourceName string, blocker *RequestBlocker) *AccessGrantor {
	g := &AccessGrantor{blocker: blocker}
	g.Provider = *NewProvider(name, "access_grantor", []string{sourceName}, nil)
	g.Provider.hook = g
	return g
}

// GetValue dispatches the reservation command named by the next address
// segment.
func (g *AccessGrantor) GetValue(ctx context.Context, req *obsmsg.ValueRequest) (*obsmsg.Value, error) {
	user := req.User
	if user == nil {
		return nil, obsmsg.OtherErr(obsmsg.CodeUnknownRequest, "no user in request", obsmsg.SeverityNormal)
	}
	if req.Index >= len(req.Address) {
		return nil, obsmsg.AddressErr(obsmsg.CodeNoCommand, "the address does not contain a command")
	}
	command := req.Address[req.Index]
	isPut := req.RequestType == obsmsg.RequestPut

	switch {
	case command == "take_control" && isPut:
		var deadline *float64
		if t, ok := req.DataFloat(obsmsg.ParamTimeoutReservation); ok {
			deadline = &t
		}
		if err := g.blocker.MakeReservation(user, deadline); err != nil {
			g.slog.Infof("%s: user %s failed to take control, blocker is already in use", g.name, user.Name)
			return obsmsg.NewValue(false), nil
		}
		g.slog.Infof("%s: user %s took control of the blocker", g.name, user.Name)
		return obsmsg.NewValue(true), nil

	case command == "break_control" && isPut:
		if holder := g.blocker.CurrentUser(); holder != nil {
			g.slog.Infof("%s: user %s cancels control held by %s", g.name, user.Name, holder.Name)
			g.blocker.CancelReservation()
		} else {
			g.slog.Infof("%s: user %s tried to break control but no one held it", g.name, user.Name)
		}
		return obsmsg.NewValue(true), nil

	case command == "return_control" && isPut:
		holder := g.blocker.CurrentUser()
		if holder == nil || holder.Equal(user) {
			g.blocker.CancelReservation()
			g.slog.Infof("%s: user %s returned control of the blocker", g.name, user.Name)
			return obsmsg.NewValue(true), nil
		}
		g.slog.Infof("%s: user %s failed to return control held by %s", g.name, user.Name, holder.Name)
		return obsmsg.NewValue(false), nil

	case command == "current_user":
		holder, deadline := g.blocker.CurrentReservation()
		out := map[string]interface{}{
			"name":            nil,
			"login_date":      nil,
			"timeout_control": nil,
		}
		if holder != nil {
			out["name"] = holder.Name
			out["login_date"] = holder.LoginDate
			out["timeout_control"] = deadline
		}
		return obsmsg.NewValue(out), nil

	case command == "timeout_current_control":
		holder, deadline := g.blocker.CurrentReservation()
		if holder == nil {
			return obsmsg.NewValue(nil), nil
		}
		return obsmsg.NewValue(deadline), nil

	case command == "is_access":
		holder := g.blocker.CurrentUser()
		return obsmsg.NewValue(holder != nil && holder.Equal(user)), nil
	}
	return nil, obsmsg.AddressErr(obsmsg.CodeUnknownTarget, "unrecognised command for module "+g.name)
}
