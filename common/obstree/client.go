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

// Window granted to internal requests that do not bring their own timeout.
const internalRequestWindow = 5.0

// InternalClient lets components inside the process query the tree the same
// way external clients do, without touching the network.  Requests carry
// the service identity "<component>_client" unless they name a user
// themselves.
type InternalClient struct {
	resolver Resolver
	user     *obsmsg.User
}

// NewInternalClient builds a client resolving through res on behalf of the
// named component.
func NewInternalClient(res Resolver, component string) *InternalClient {
	return &InternalClient{
		resolver: res,
		user:     obsmsg.NewServiceUser(component + "_client"),
	}
}

// Send resolves a batch of requests concurrently and returns the answers in
// order.  The batch shares one deadline: the shortest explicit request
// timeout, or a default window when none is set.
func (c *InternalClient) Send(ctx context.Context, reqs ...*obsmsg.ValueRequest) []*obsmsg.ValueResponse {
	timeout := 0.0
	for _, r := range reqs {
		if r.RequestTimeout > 0 && (timeout == 0 || r.RequestTimeout < timeout) {
			timeout = r.RequestTimeout
		}
	}
	if timeout == 0 {
		timeout = obsmsg.Now() + internalRequestWindow
	}
	for _, r := range reqs {
		if r.User == nil {
			r.User = c.user
		}
	}
	return c.resolver.ResolveInternal(ctx, reqs, timeout)
}

// Get resolves one READ request for the dotted address.
func (c *InternalClient) Get(ctx context.Context, address string) *obsmsg.ValueResponse {
	req := obsmsg.NewRequest(obsmsg.ParseAddress(address))
	return c.Send(ctx, req)[0]
}

// Put resolves one WRITE request for the dotted address with the given
// parameters.
func (c *InternalClient) Put(ctx context.Context, address string, params map[string]interface{}) *obsmsg.ValueResponse {
	req := obsmsg.NewRequest(obsmsg.ParseAddress(address))
	req.RequestType = obsmsg.RequestPut
	req.Data = params
	return c.Send(ctx, req)[0]
}
