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
	"strings"
	"sync"

	"github.com/pkg/errors"

	"obs/base_def"
	"obs/common/obsmsg"
)

// ErrReservation is returned when control of a blocker cannot be taken.
var ErrReservation = errors.New("the blocker is reserved by another user")

// RequestBlocker gates WRITE requests on an exclusive per-user reservation.
// READ requests pass through, except those on the black list.  WRITE
// requests pass when white-listed, flagged with the internal special
// permission by a service user, or sent by the current reservation holder.
// Reservations expire lazily: the first lookup past the deadline clears
// the holder.
type RequestBlocker struct {
	Node

	listMtx   sync.Mutex
	whiteList map[string][]string
	blackList map[string][]string

	resMtx     sync.Mutex
	holder     *obsmsg.User
	resTimeout float64
}

// NewRequestBlocker builds a blocker in front of sub.
func NewRequestBlocker(name string, sub Component) *RequestBlocker {
	return &RequestBlocker{
		Node:      newNode(name, "request_blocker", sub),
		whiteList: map[string][]string{obsmsg.RequestGet: nil, obsmsg.RequestPut: nil},
		blackList: map[string][]string{obsmsg.RequestGet: nil, obsmsg.RequestPut: nil},
	}
}

// Init loads the white and black lists from the configuration.
func (b *RequestBlocker) Init(td *TreeData) error {
	if err := b.Node.Init(td); err != nil {
		return err
	}
	b.listMtx.Lock()
	for typ, addrs := range b.Scope().StringLists("white_list") {
		if _, ok := b.whiteList[typ]; ok {
			b.whiteList[typ] = append(b.whiteList[typ], addrs...)
		}
	}
	for typ, addrs := range b.Scope().StringLists("black_list") {
		if _, ok := b.blackList[typ]; ok {
			b.blackList[typ] = append(b.blackList[typ], addrs...)
		}
	}
	b.listMtx.Unlock()
	return nil
}

// GetResponse runs the provider frame with the gating hook.
func (b *RequestBlocker) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	return b.FrameResponse(ctx, req, b, nil)
}

// GetValue decides whether the request may pass.  It never produces a
// value itself; the outcome is either delegation or a typed refusal.
func (b *RequestBlocker) GetValue(ctx context.Context, req *obsmsg.ValueRequest) (*obsmsg.Value, error) {
	residual := strings.Join(req.Residual(), ".")

	if b.onList(b.blackList, residual, req.RequestType) {
		return nil, obsmsg.AddressErr(obsmsg.CodeAccessDenied, "this address is black-listed")
	}
	if req.RequestType == obsmsg.RequestGet {
		return nil, ErrDelegate
	}
	if req.RequestType != obsmsg.RequestPut {
		return nil, obsmsg.OtherErr(obsmsg.CodeUnknownRequest, "unrecognized request type", obsmsg.SeverityNormal)
	}
	if b.onList(b.whiteList, residual, req.RequestType) {
		return nil, ErrDelegate
	}
	if flag, ok := req.DataBool(obsmsg.ParamSpecialPermission); ok && flag &&
		req.User != nil && req.User.Service {
		b.slog.Debugf("%s: special permission flag bypasses the blocker for %s", b.name, req.Address)
		return nil, ErrDelegate
	}
	if holder := b.CurrentUser(); holder != nil && holder.Equal(req.User) {
		return nil, ErrDelegate
	}
	return nil, obsmsg.AddressErr(obsmsg.CodeAccessDenied, "the blocker is not reserved for this user")
}

func (b *RequestBlocker) onList(lists map[string][]string, residual, requestType string) bool {
	b.listMtx.Lock()
	defer b.listMtx.Unlock()
	for _, adr := range lists[requestType] {
		if adr == residual {
			return true
		}
	}
	return false
}

// AddToWhiteList opens an address for unreserved WRITE requests.
func (b *RequestBlocker) AddToWhiteList(adr, requestType string) {
	b.addToList(b.whiteList, adr, requestType)
}

// AddToBlackList closes an address for everyone.
func (b *RequestBlocker) AddToBlackList(adr, requestType string) {
	b.addToList(b.blackList, adr, requestType)
}

func (b *RequestBlocker) addToList(lists map[string][]string, adr, requestType string) {
	b.listMtx.Lock()
	defer b.listMtx.Unlock()
	for _, have := range lists[requestType] {
		if have == adr {
			return
		}
	}
	lists[requestType] = append(lists[requestType], adr)
}

// MakeReservation grants control to user until the given deadline.  A nil
// deadline means now plus the configured default control time.  The call
// fails when someone else holds the reservation or the deadline lies
// further away than the configured maximum.
func (b *RequestBlocker) MakeReservation(user *obsmsg.User, deadline *float64) error {
	b.resMtx.Lock()
	defer b.resMtx.Unlock()
	now := obsmsg.Now()
	if holder := b.currentLocked(now); holder != nil && !holder.Equal(user) {
		return ErrReservation
	}
	t := now + b.Scope().Float("default_control_time", base_def.BLOCKER_DEFAULT_CONTROL_TIME)
	if deadline != nil {
		t = *deadline
	}
	if t-now > b.Scope().Float("max_control_time", base_def.BLOCKER_MAX_CONTROL_TIME) {
		return ErrReservation
	}
	u := *user
	u.LoginDate = now
	b.holder = &u
	b.resTimeout = t
	return nil
}

// CancelReservation frees the blocker unconditionally.
func (b *RequestBlocker) CancelReservation() {
	b.resMtx.Lock()
	b.holder = nil
	b.resTimeout = 0
	b.resMtx.Unlock()
}

// CurrentUser returns the active reservation holder, or nil.
func (b *RequestBlocker) CurrentUser() *obsmsg.User {
	b.resMtx.Lock()
	defer b.resMtx.Unlock()
	return b.currentLocked(obsmsg.Now())
}

// CurrentReservation returns the holder and the reservation deadline in one
// consistent read.
func (b *RequestBlocker) CurrentReservation() (*obsmsg.User, float64) {
	b.resMtx.Lock()
	defer b.resMtx.Unlock()
	holder := b.currentLocked(obsmsg.Now())
	if holder == nil {
		return nil, 0
	}
	return holder, b.resTimeout
}

func (b *RequestBlocker) currentLocked(now float64) *obsmsg.User {
	if b.holder != nil && b.resTimeout <= now {
		b.holder = nil
		b.resTimeout = 0
	}
	return b.holder
}
