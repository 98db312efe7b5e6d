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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs/common/obsmsg"
)

func TestCacheServesFreshValue(t *testing.T) {
	leaf := newStubLeaf(nil)
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	resp := cache.GetResponse(context.Background(), getRequest("zb08.mount.azimuth"))
	require.True(t, resp.Status)
	assert.Equal(t, 1, leaf.callCount())

	req := getRequest("zb08.mount.azimuth")
	req.Tolerance = 10
	resp = cache.GetResponse(context.Background(), req)
	require.True(t, resp.Status)
	assert.Equal(t, "ok", resp.Value.V)
	assert.Equal(t, 1, leaf.callCount())
}

func TestCacheExpiredValueRefreshes(t *testing.T) {
	old := obsmsg.NewValue("stale")
	old.Ts = obsmsg.Now() - 100
	leaf := newStubLeaf(func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
		return obsmsg.OK(req.Address, old)
	})
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	req := getRequest("zb08.mount.azimuth")
	req.Tolerance = 1
	cache.GetResponse(context.Background(), req)
	cache.GetResponse(context.Background(), req.Copy())
	// The stored value never satisfies the tolerance, so every request
	// goes upstream.
	assert.Equal(t, 2, leaf.callCount())
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	leaf := newStubLeaf(nil)
	leaf.delay = 50 * time.Millisecond
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	var wg sync.WaitGroup
	results := make([]*obsmsg.ValueResponse, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := getRequest("zb08.dome.shutterstatus")
			req.Tolerance = 10
			results[i] = cache.GetResponse(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, resp := range results {
		require.True(t, resp.Status)
		assert.Equal(t, "ok", resp.Value.V)
	}
	// One caller claimed the refresh; the rest waited and hit the cache.
	assert.Equal(t, 1, leaf.callCount())
}

func TestCacheWaiterAsksByItselfAfterFailedClaim(t *testing.T) {
	var failFirst sync.Once
	leaf := newStubLeaf(func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
		resp := obsmsg.OK(req.Address, obsmsg.NewValue("ok"))
		failFirst.Do(func() {
			time.Sleep(30 * time.Millisecond)
			resp = obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeUpstreamUnavail,
				"unavailable", obsmsg.SeverityTemporary))
		})
		return resp
	})
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	req := func() *obsmsg.ValueRequest {
		r := getRequest("zb08.dome.shutterstatus")
		r.Tolerance = 10
		return r
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cache.GetResponse(context.Background(), req())
	}()
	time.Sleep(10 * time.Millisecond)
	resp := cache.GetResponse(context.Background(), req())
	wg.Wait()

	// The first caller's refresh failed, so the waiter retried upstream
	// on its own.
	require.True(t, resp.Status)
	assert.Equal(t, 2, leaf.callCount())
}

func TestCacheClaimReleasedWhenRefreshPanics(t *testing.T) {
	var calls int32
	leaf := newStubLeaf(func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("driver blew up")
		}
		return obsmsg.OK(req.Address, obsmsg.NewValue("ok"))
	})
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	req := func() *obsmsg.ValueRequest {
		r := getRequest("zb08.dome.shutterstatus")
		r.Tolerance = 10
		return r
	}

	// The first refresh panics.  The solver's fence recovers panics in
	// production; here the recovery is inlined.
	func() {
		defer func() { require.NotNil(t, recover()) }()
		cache.GetResponse(context.Background(), req())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	resp := cache.GetResponse(ctx, req())
	require.True(t, resp.Status)
	assert.Equal(t, "ok", resp.Value.V)
	// The second request must claim at once instead of parking on the
	// dead refresh marker left by the panicking caller.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 2, leaf.callCount())
}

func TestCacheSkipsWriteRequests(t *testing.T) {
	leaf := newStubLeaf(nil)
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, nil)

	req := getRequest("zb08.dome.slewtoazimuth")
	req.RequestType = obsmsg.RequestPut
	cache.GetResponse(context.Background(), req)
	cache.GetResponse(context.Background(), req.Copy())
	assert.Equal(t, 2, leaf.callCount())

	_, _, ok := cache.Snapshot(req.Address)
	assert.False(t, ok)
}

func TestCacheNoCachableRegex(t *testing.T) {
	leaf := newStubLeaf(nil)
	cache := NewCache("cache-zb08", leaf)
	initTree(t, cache, map[string]interface{}{
		"tree": map[string]interface{}{
			"cache-zb08": map[string]interface{}{
				"no_cachable_regex": []interface{}{`zb08\.camera`},
			},
		},
	})

	req := getRequest("zb08.camera.imagearray")
	req.Tolerance = 100
	cache.GetResponse(context.Background(), req)
	cache.GetResponse(context.Background(), req.Copy())
	assert.Equal(t, 2, leaf.callCount())

	// The pattern anchors at the start of the address.
	other := getRequest("zb08.dome.azimuth")
	other.Tolerance = 100
	cache.GetResponse(context.Background(), other)
	cache.GetResponse(context.Background(), other.Copy())
	assert.Equal(t, 3, leaf.callCount())
}

func TestCacheChangeSignalFiresOnContentChange(t *testing.T) {
	cache := NewCache("cache-zb08", newStubLeaf(nil))
	initTree(t, cache, nil)

	key := "zb08.dome.azimuth"
	first := obsmsg.NewValue(10.0)
	signal := cache.ChangeSignal()
	cache.update(key, first)
	select {
	case <-signal:
		t.Fatal("initial fill must not fire the change signal")
	default:
	}

	// Same payload with a newer timestamp refreshes without a change.
	signal = cache.ChangeSignal()
	refreshed := obsmsg.NewValue(10.0)
	refreshed.Ts = first.Ts + 1
	cache.update(key, refreshed)
	select {
	case <-signal:
		t.Fatal("identical payload must not fire the change signal")
	default:
	}
	_, changeTime, ok := cache.Snapshot(obsmsg.ParseAddress(key))
	require.True(t, ok)
	assert.Equal(t, first.Ts, changeTime)

	// A differing payload moves the change time and fires the signal.
	signal = cache.ChangeSignal()
	changed := obsmsg.NewValue(11.0)
	changed.Ts = refreshed.Ts + 1
	cache.update(key, changed)
	select {
	case <-signal:
	default:
		t.Fatal("content change must fire the change signal")
	}
	_, changeTime, _ = cache.Snapshot(obsmsg.ParseAddress(key))
	assert.Equal(t, changed.Ts, changeTime)

	// An older value is discarded entirely.
	stale := obsmsg.NewValue(9.0)
	stale.Ts = first.Ts - 1
	cache.update(key, stale)
	v, _, _ := cache.Snapshot(obsmsg.ParseAddress(key))
	assert.Equal(t, 11.0, v.V)
}
