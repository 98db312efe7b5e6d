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
	"regexp"
	"sync"

	"obs/common/obsmsg"
)

// After how many waits on the in-flight refresh a caller asks by itself.
const cacheMaxRecall = 1

type cacheEntry struct {
	value      *obsmsg.Value
	changeTime float64
	claim      chan struct{}
}

// Cache answers READ requests from stored values when they are fresh enough
// for the request's tolerance.  Concurrent misses on one address coalesce:
// the first caller claims the refresh and the rest wait on it, asking the
// subcontractor themselves only after the claimed refresh failed to supply
// a usable value.  Entries are created on first request and never evicted.
type Cache struct {
	Node
	noCache []*regexp.Regexp

	mtx     sync.Mutex
	entries map[string]*cacheEntry
	change  chan struct{}
}

// NewCache builds a cache in front of sub.
func NewCache(name string, sub Component) *Cache {
	return &Cache{
		Node:    newNode(name, "cache", sub),
		entries: make(map[string]*cacheEntry),
		change:  make(chan struct{}),
	}
}

// Init compiles the no_cachable_regex patterns from the configuration.
// Matching follows leftmost-anchored semantics: a pattern excludes every
// address it matches at the start.
func (c *Cache) Init(td *TreeData) error {
	if err := c.Node.Init(td); err != nil {
		return err
	}
	c.noCache = c.noCache[:0]
	for _, p := range c.Scope().Strings("no_cachable_regex") {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			c.slog.Errorf("%s: dropping bad no_cachable_regex %q: %v", c.name, p, err)
			continue
		}
		c.noCache = append(c.noCache, re)
	}
	return nil
}

// Cacheable reports whether the request may be answered from the cache.
func (c *Cache) Cacheable(req *obsmsg.ValueRequest) bool {
	if req.RequestType != obsmsg.RequestGet {
		return false
	}
	addr := req.Address.String()
	for _, re := range c.noCache {
		if re.MatchString(addr) {
			return false
		}
	}
	return true
}

// ChangeSignal returns a channel closed on the next content change.  Grab
// it before inspecting a snapshot so a change between the two is not lost.
func (c *Cache) ChangeSignal() <-chan struct{} {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.change
}

// Snapshot returns the stored value and its change time for addr.
func (c *Cache) Snapshot(addr obsmsg.Address) (*obsmsg.Value, float64, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e := c.entries[addr.String()]
	if e == nil || e.value == nil {
		return nil, 0, false
	}
	return e.value, e.changeTime, true
}

// GetResponse answers from the cache or coordinates a refresh.
func (c *Cache) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	if !c.Cacheable(req) {
		return c.FrameResponse(ctx, req, nil, nil)
	}

	key := req.Address.String()
	recall := 0
	for {
		c.mtx.Lock()
		e := c.entries[key]
		if e == nil {
			e = &cacheEntry{}
			c.entries[key] = e
		}
		if e.value != nil && !e.value.Expired(req.TimeOfData, req.Tolerance) {
			v := e.value.Copy()
			c.mtx.Unlock()
			return obsmsg.OK(req.Address, v)
		}
		claim := e.claim
		if claim == nil {
			// No refresh in flight; claim it.  The claim must come off
			// even when the refresh unwinds with a panic, or every later
			// request would park on a marker nobody will ever close.
			mine := make(chan struct{})
			e.claim = mine
			c.mtx.Unlock()
			defer func() {
				c.mtx.Lock()
				if e.claim == mine {
					e.claim = nil
				}
				c.mtx.Unlock()
				close(mine)
			}()
			return c.refresh(ctx, req, key)
		}
		if recall >= cacheMaxRecall {
			c.mtx.Unlock()
			c.slog.Debugf("%s: stop waiting for the pending refresh of %s, asking by itself", c.name, key)
			return c.refresh(ctx, req, key)
		}
		c.mtx.Unlock()
		select {
		case <-claim:
		case <-ctx.Done():
		}
		recall++
	}
}

// refresh asks the subcontractor and folds the answer into the store.
func (c *Cache) refresh(ctx context.Context, req *obsmsg.ValueRequest, key string) *obsmsg.ValueResponse {
	if c.sub == nil {
		return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeNoSubcontractor,
			"no subcontractor to take over the request", obsmsg.SeverityCritical).WithSource(c.name))
	}
	resp := c.sub.GetResponse(ctx, req)
	if resp == nil {
		return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeBadSubcontractor,
			"subcontractor returned no response", obsmsg.SeverityCritical).WithSource(c.name))
	}
	if resp.Value != nil {
		c.update(key, resp.Value)
	}
	return resp
}

// update folds a freshly obtained value into the store.  The change time
// moves, and the freezer condition fires, only when a newer value actually
// differs from the stored one; a newer identical value just refreshes the
// timestamp.  Values older than the stored one are discarded.
func (c *Cache) update(key string, v *obsmsg.Value) {
	c.mtx.Lock()
	e := c.entries[key]
	if e == nil {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	switch {
	case e.value == nil:
		e.value = v
		e.changeTime = v.Ts
	case e.value.Ts < v.Ts:
		if !e.value.SamePayload(v) {
			e.changeTime = v.Ts
			e.value = v
			close(c.change)
			c.change = make(chan struct{})
		} else {
			e.value = v
		}
	}
	c.mtx.Unlock()
}
