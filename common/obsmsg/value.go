/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obsmsg

import (
	"reflect"
	"time"
)

// TagFromFreezer marks values answered out of a subscription rather than a
// one-shot refresh.
const TagFromFreezer = "from_cf"

// Value is the payload a leaf produced, stamped with the moment it was read
// from the device and a small free-form tag map.
type Value struct {
	V    interface{}            `msgpack:"v"`
	Ts   float64                `msgpack:"ts"`
	Tags map[string]interface{} `msgpack:"tags,omitempty"`
}

// NewValue wraps a payload with the current timestamp.
func NewValue(v interface{}) *Value {
	return &Value{V: v, Ts: Now()}
}

// Expired reports whether the value is too old to satisfy a reader whose
// reference time is ts and who tolerates tolerance seconds of staleness.
func (v *Value) Expired(ts, tolerance float64) bool {
	return v.Ts+tolerance < ts
}

// Copy returns a value sharing the payload but owning its tag map, so the
// caller may tag it without mutating the cached original.
func (v *Value) Copy() *Value {
	nv := &Value{V: v.V, Ts: v.Ts}
	if v.Tags != nil {
		nv.Tags = make(map[string]interface{}, len(v.Tags))
		for k, t := range v.Tags {
			nv.Tags[k] = t
		}
	}
	return nv
}

// SamePayload compares payloads only, ignoring timestamps and tags.  The
// cache uses this to decide whether an update is a real content change.
func (v *Value) SamePayload(o *Value) bool {
	if v == nil || o == nil {
		return v == o
	}
	return reflect.DeepEqual(v.V, o.V)
}

// Now is the wire clock: seconds since the epoch as a float, matching the
// timestamps clients send.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
