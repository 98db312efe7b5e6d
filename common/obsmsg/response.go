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

// ValueResponse answers one ValueRequest.  Status is true exactly when a
// value is present and no error is attached.
type ValueResponse struct {
	Address Address `msgpack:"address"`
	Value   *Value  `msgpack:"value"`
	Status  bool    `msgpack:"status"`
	Err     *Error  `msgpack:"error"`
}

// OK builds a success response.
func OK(addr Address, v *Value) *ValueResponse {
	return &ValueResponse{Address: addr, Value: v, Status: v != nil}
}

// Fail builds a failure response carrying a typed error.
func Fail(addr Address, err *Error) *ValueResponse {
	return &ValueResponse{Address: addr, Err: err}
}

// Encode serializes the response for the wire.
func (r *ValueResponse) Encode() ([]byte, error) {
	return msgpack.Marshal(r)
}

// DecodeResponse parses a wire payload into a response.
func DecodeResponse(b []byte) (*ValueResponse, error) {
	var r ValueResponse
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "decoding value response")
	}
	return &r, nil
}
