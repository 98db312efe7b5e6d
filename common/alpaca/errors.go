/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package alpaca

import (
	"fmt"

	"github.com/pkg/errors"
)

// HTTPError is a non-2xx answer from the Alpaca server.
type HTTPError struct {
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("alpaca HTTP %d error: %s", e.Status, e.Reason)
}

// DriverError is a driver-level failure reported through the ErrorNumber
// field of an otherwise successful answer.
type DriverError struct {
	Number  int
	Message string
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("alpaca error %d: %s", e.Number, e.Message)
}

// ErrContentType is returned when the server answer is not the expected
// JSON document.
var ErrContentType = errors.New("alpaca answer has the wrong content type")

// ErrBadArguments is returned when the request parameters do not fit the
// addressed attribute.
var ErrBadArguments = errors.New("wrong arguments for alpaca attribute")

// ErrUnknownDevice is returned when the address names a device the
// configured observatory does not have.
var ErrUnknownDevice = errors.New("the observatory has no such device")
