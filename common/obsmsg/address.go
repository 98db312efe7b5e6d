/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package obsmsg defines the data model shared by the observatory tree and
// its clients: addresses, values, requests/responses, users, the error
// taxonomy, and the multipart wire envelope.  Payloads travel as msgpack so
// that implementations in other languages can interoperate.
package obsmsg

import (
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Address is an ordered sequence of non-empty path segments identifying a
// node-and-operation target in the tree.  The traversal cursor lives on the
// request, not here; two addresses are equal iff their segments are equal.
type Address []string

// ParseAddress converts a dotted path into an Address.  An empty string
// yields a nil address.
func ParseAddress(s string) Address {
	if s == "" {
		return nil
	}
	return Address(strings.Split(s, "."))
}

func (a Address) String() string {
	return strings.Join(a, ".")
}

// Equal compares two addresses segment by segment.
func (a Address) Equal(b Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Tail returns the residual dotted path after the first idx segments.  An
// out-of-range cursor yields the empty string.
func (a Address) Tail(idx int) string {
	if idx < 0 || idx >= len(a) {
		return ""
	}
	return strings.Join(a[idx:], ".")
}

// EncodeMsgpack serializes the address in its dotted string form, which is
// what remote peers exchange.
func (a Address) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(a.String())
}

// DecodeMsgpack accepts the dotted string form.
func (a *Address) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	*a = ParseAddress(s)
	return nil
}
