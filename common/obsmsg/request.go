/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obsmsg

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Request types on the wire.
const (
	RequestGet = "GET"
	RequestPut = "PUT"
)

// Recognized request_data keys.
const (
	ParamTimeOfKnownChange  = "time_of_known_change"
	ParamRefreshes          = "nr_of_unsuccessful_refreshes"
	ParamNoSendBefore       = "no_send_before"
	ParamTimeoutReservation = "timeout_reservation"
	ParamSpecialPermission  = "request_special_permission_param"
)

// ValueRequest is one addressed operation traversing the tree.  Index is the
// traversal cursor: the number of address segments consumed so far.
type ValueRequest struct {
	Address        Address                `msgpack:"address"`
	Index          int                    `msgpack:"index"`
	RequestType    string                 `msgpack:"request_type"`
	RequestTimeout float64                `msgpack:"request_timeout"`
	TimeOfData     float64                `msgpack:"time_of_data"`
	Tolerance      float64                `msgpack:"time_of_data_tolerance"`
	CycleQuery     bool                   `msgpack:"cycle_query"`
	Data           map[string]interface{} `msgpack:"request_data,omitempty"`
	User           *User                  `msgpack:"user"`
}

// NewRequest builds a READ request for addr with the cursor at zero and the
// reference time set to now.
func NewRequest(addr Address) *ValueRequest {
	return &ValueRequest{
		Address:     addr,
		RequestType: RequestGet,
		TimeOfData:  Now(),
	}
}

// Copy clones the request deeply enough that a refresher can mutate the
// cursor, timestamps, and data map without disturbing the original.  The
// user identity is shared.
func (r *ValueRequest) Copy() *ValueRequest {
	nr := *r
	if r.Data != nil {
		nr.Data = make(map[string]interface{}, len(r.Data))
		for k, v := range r.Data {
			nr.Data[k] = v
		}
	}
	return &nr
}

// Residual returns the address segments not yet consumed by the traversal.
func (r *ValueRequest) Residual() []string {
	if r.Index < 0 || r.Index >= len(r.Address) {
		return nil
	}
	return r.Address[r.Index:]
}

// DataFloat fetches a numeric request parameter, coercing the integer
// representations msgpack decoders produce.
func (r *ValueRequest) DataFloat(key string) (float64, bool) {
	if r.Data == nil {
		return 0, false
	}
	return asFloat(r.Data[key])
}

// DataBool fetches a boolean request parameter.
func (r *ValueRequest) DataBool(key string) (bool, bool) {
	if r.Data == nil {
		return false, false
	}
	b, ok := r.Data[key].(bool)
	return b, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Encode serializes the request for the wire.
func (r *ValueRequest) Encode() ([]byte, error) {
	return msgpack.Marshal(r)
}

// DecodeRequest parses a wire payload into a request, rejecting payloads
// with no address or an unset request type.
func DecodeRequest(b []byte) (*ValueRequest, error) {
	var r ValueRequest
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "decoding value request")
	}
	if len(r.Address) == 0 {
		return nil, errors.New("value request has no address")
	}
	if r.RequestType == "" {
		r.RequestType = RequestGet
	}
	return &r, nil
}
