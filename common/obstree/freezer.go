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
	"time"

	"obs/base_def"
	"obs/common/obsmsg"
)

// ConditionalFreezer holds cyclic READ requests open until the cached value
// changes past the client's time_of_known_change, then releases them with
// the new value.  Requests without the cycle flag pass straight through.
// The freezer never invents values; it only watches the cache below it and
// refreshes through it when the stored value goes stale.
type ConditionalFreezer struct {
	Node
	cache *Cache

	maxRefreshes int
	alarmOffset  float64
	minTolerance float64
}

// NewConditionalFreezer builds a freezer on top of cache.
func NewConditionalFreezer(name string, cache *Cache) *ConditionalFreezer {
	return &ConditionalFreezer{Node: newNode(name, "conditional_freezer", cache), cache: cache}
}

// Init reads the refresh budget and timing settings.
func (f *ConditionalFreezer) Init(td *TreeData) error {
	if err := f.Node.Init(td); err != nil {
		return err
	}
	f.maxRefreshes = f.Scope().Int("max_unsuccessful_refreshes", base_def.FREEZER_MAX_UNSUCCESSFUL_REFRESHES)
	f.alarmOffset = f.Scope().Float("alarm_timeout", base_def.FREEZER_ALARM_TIMEOUT_OFFSET)
	f.minTolerance = f.Scope().Float("min_time_of_data_tolerance", base_def.FREEZER_MIN_TOLERANCE)
	return nil
}

// GetResponse runs the provider frame with the freezing hook.
func (f *ConditionalFreezer) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	return f.FrameResponse(ctx, req, f, nil)
}

// GetValue implements the subscription loop for cyclic requests.
func (f *ConditionalFreezer) GetValue(ctx context.Context, req *obsmsg.ValueRequest) (*obsmsg.Value, error) {
	if !req.CycleQuery {
		return nil, ErrDelegate
	}
	if f.cache == nil {
		return nil, ErrDelegate
	}
	if !f.cache.Cacheable(req) {
		f.slog.Infof("%s: cycle query for a non-cacheable value %s", f.name, req.Address)
		return nil, obsmsg.OtherErr(obsmsg.CodeUncacheableCycle,
			"cycle queries only work for cacheable values", obsmsg.SeverityNormal)
	}

	knownChange, hasKnownChange := req.DataFloat(obsmsg.ParamTimeOfKnownChange)
	tolerance := req.Tolerance
	if tolerance < f.minTolerance {
		f.slog.Warnf("%s: time_of_data_tolerance for %s is too short, raising to %v",
			f.name, req.Address, f.minTolerance)
		tolerance = f.minTolerance
	}
	refreshes := 0
	if req.Data != nil {
		if raw, ok := req.Data[obsmsg.ParamRefreshes]; ok {
			n, numeric := req.DataFloat(obsmsg.ParamRefreshes)
			if !numeric {
				f.slog.Warnf("%s: bad %s value %v in request %s",
					f.name, obsmsg.ParamRefreshes, raw, req.Address)
				return nil, obsmsg.AddressErr(obsmsg.CodeBadArguments,
					"nr_of_unsuccessful_refreshes must be a number")
			}
			refreshes = int(n)
		}
	}
	waitingTimeout := req.RequestTimeout - f.alarmOffset

	// No message leaves before no_send_before; the client paces itself.
	if noSendBefore, ok := req.DataFloat(obsmsg.ParamNoSendBefore); ok {
		if err := f.delay(ctx, noSendBefore, waitingTimeout); err != nil {
			return nil, err
		}
	}

	waitOffset := 0.0
	maxSeverity := obsmsg.SeverityNormal
	for {
		// The signal channel must be taken before the snapshot so a
		// change landing between the two still wakes the waiter.
		signal := f.cache.ChangeSignal()
		v, changeTime, _ := f.cache.Snapshot(req.Address)

		if v != nil && (!hasKnownChange || knownChange < changeTime) {
			out := v.Copy()
			if out.Tags == nil {
				out.Tags = make(map[string]interface{})
			}
			out.Tags[obsmsg.TagFromFreezer] = true
			return out, nil
		}

		if refreshes >= f.maxRefreshes {
			f.slog.Infof("%s: too many failed attempts to refresh %s", f.name, req.Address)
			return nil, obsmsg.OtherErr(obsmsg.CodeRefreshBudget,
				"the refresh budget for this cycle query is exhausted", maxSeverity)
		}

		woke := f.wait(ctx, signal, v, tolerance, waitingTimeout, waitOffset)
		waitOffset = 0
		if woke {
			// Some other task refreshed the value; just look again.
			continue
		}

		if expired := f.expireErr(waitingTimeout, refreshes); expired != nil {
			return nil, expired
		}

		f.slog.Debugf("%s: refreshing value %s", f.name, req.Address)
		sr := req.Copy()
		sr.TimeOfData = obsmsg.Now()
		rctx, cancel := context.WithDeadline(ctx, unixTime(waitingTimeout))
		resp := f.cache.GetResponse(rctx, sr)
		cancel()
		if resp != nil && resp.Status {
			waitOffset = 0
			refreshes = 0
			maxSeverity = obsmsg.SeverityNormal
			continue
		}
		if rctx.Err() != nil {
			if ctx.Err() != nil {
				// The caller is gone; this is a cancellation, not a
				// freezer fault.
				return nil, ctx.Err()
			}
			if expired := f.expireErr(waitingTimeout, refreshes); expired != nil {
				return nil, expired
			}
			f.slog.Errorf("%s: refresh of %s interrupted by timeout before the deadline passed", f.name, req.Address)
			return nil, obsmsg.OtherErr(obsmsg.CodeRefreshInterrupted,
				"a refresh was interrupted by timeout before the waiting deadline passed",
				obsmsg.SeverityCritical)
		}
		f.slog.Infof("%s: can not update value in cache: %s", f.name, req.Address)
		waitOffset = tolerance
		refreshes++
		if resp != nil && resp.Err != nil && obsmsg.MoreSevere(resp.Err.Severity, maxSeverity) {
			maxSeverity = resp.Err.Severity
		}
	}
}

// expireErr reports the alarm timeout, handing the refresh counter back so
// the client can reopen the subscription where it left off.
func (f *ConditionalFreezer) expireErr(waitingTimeout float64, refreshes int) *obsmsg.Error {
	if waitingTimeout-obsmsg.Now() > 0 {
		return nil
	}
	e := obsmsg.OtherErr(obsmsg.CodeAlarmTimeout,
		"no change before the waiting deadline", obsmsg.SeverityNormal)
	e.Refreshes = refreshes
	return e
}

// wait sleeps until the stored value goes stale, the waiting deadline
// nears, or the cache signals a change.  It reports whether it was woken
// by the change signal.
func (f *ConditionalFreezer) wait(ctx context.Context, signal <-chan struct{}, v *obsmsg.Value,
	tolerance, waitingTimeout, minWait float64) bool {

	now := obsmsg.Now()
	waitingTime := 0.0
	if v != nil {
		waitingTime = v.Ts + tolerance - now
	}
	if minWait != 0 && waitingTime < minWait {
		waitingTime = minWait
	}
	if waitingTime <= 0 {
		return false
	}
	timeToTimeout := waitingTimeout - now
	if timeToTimeout <= 0 {
		return false
	}
	if timeToTimeout < waitingTime {
		waitingTime = timeToTimeout
	}
	timer := time.NewTimer(floatDuration(waitingTime))
	defer timer.Stop()
	select {
	case <-signal:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// delay holds the request back until no_send_before, bounded by the
// waiting deadline.
func (f *ConditionalFreezer) delay(ctx context.Context, noSendBefore, waitingTimeout float64) error {
	now := obsmsg.Now()
	if now > noSendBefore {
		return nil
	}
	until := noSendBefore
	if waitingTimeout < until {
		until = waitingTimeout
	}
	if until <= now {
		return nil
	}
	timer := time.NewTimer(floatDuration(until - now))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unixTime(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}

func floatDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
