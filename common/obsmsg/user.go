/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obsmsg

// User identifies the origin of a request.  Normal users arrive over the
// front router and carry the transport-assigned socket id; service users are
// created in-process and are the only identities for which a request
// blocker honors the special-permission parameter.
type User struct {
	Name      string  `msgpack:"name"`
	LoginDate float64 `msgpack:"login_date"`
	Service   bool    `msgpack:"is_service"`

	// SocketID is assigned by the router on arrival and never serialized.
	SocketID []byte `msgpack:"-"`
}

// NewUser creates a normal user identity.
func NewUser(name string) *User {
	return &User{Name: name, LoginDate: Now()}
}

// NewServiceUser creates an in-process identity.
func NewServiceUser(name string) *User {
	return &User{Name: name, LoginDate: Now(), Service: true}
}

// Equal compares identities by name; a reservation taken as "alice" must be
// refreshable from a later connection carrying the same name.
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return false
	}
	return u.Name == o.Name
}
