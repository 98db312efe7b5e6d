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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs/common/obsmsg"
)

func blockerConfig() map[string]interface{} {
	return map[string]interface{}{
		"tree": map[string]interface{}{
			"blocker-zb08": map[string]interface{}{
				"white_list": map[string]interface{}{
					"PUT": []interface{}{"dome.closeshutter"},
				},
				"black_list": map[string]interface{}{
					"GET": []interface{}{"camera.lastexposure"},
				},
				"max_control_time":     60.0,
				"default_control_time": 0.2,
			},
		},
	}
}

// gateChain builds grantor -> blocker -> leaf with the cursor already past
// the telescope segment, the way the per-telescope broker leaves it.
func gateChain(t *testing.T) (*AccessGrantor, *RequestBlocker, *stubLeaf) {
	leaf := newStubLeaf(nil)
	blocker := NewRequestBlocker("blocker-zb08", leaf)
	grantor := NewAccessGrantor("grantor-zb08", "access_grantor", blocker)
	initTree(t, blocker, blockerConfig())
	initTree(t, grantor, blockerConfig())
	return grantor, blocker, leaf
}

func userRequest(addr, requestType string, user *obsmsg.User) *obsmsg.ValueRequest {
	req := getRequest(addr)
	req.RequestType = requestType
	req.User = user
	req.Index = 1
	return req
}

func grantorCommand(g *AccessGrantor, command string, user *obsmsg.User,
	data map[string]interface{}) *obsmsg.ValueResponse {
	req := getRequest("zb08.access_grantor." + command)
	req.RequestType = obsmsg.RequestPut
	req.User = user
	req.Data = data
	req.Index = 1
	return g.GetResponse(context.Background(), req)
}

func TestBlockerPassesReads(t *testing.T) {
	_, blocker, leaf := gateChain(t)
	resp := blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.azimuth", obsmsg.RequestGet, obsmsg.NewUser("alice")))
	require.True(t, resp.Status)
	assert.Equal(t, 1, leaf.callCount())
}

func TestBlockerBlackListBeatsEverything(t *testing.T) {
	_, blocker, leaf := gateChain(t)
	resp := blocker.GetResponse(context.Background(),
		userRequest("zb08.camera.lastexposure", obsmsg.RequestGet, obsmsg.NewUser("alice")))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeAccessDenied, resp.Err.Code)
	assert.Equal(t, 0, leaf.callCount())
}

func TestBlockerDeniesUnreservedWrites(t *testing.T) {
	_, blocker, leaf := gateChain(t)
	resp := blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.slewtoazimuth", obsmsg.RequestPut, obsmsg.NewUser("alice")))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeAccessDenied, resp.Err.Code)
	assert.Equal(t, 0, leaf.callCount())
}

func TestBlockerRejectsUnknownRequestType(t *testing.T) {
	_, blocker, _ := gateChain(t)
	resp := blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.azimuth", "DELETE", obsmsg.NewUser("alice")))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeUnknownRequest, resp.Err.Code)
}

func TestBlockerWhiteListedWritePasses(t *testing.T) {
	_, blocker, leaf := gateChain(t)
	resp := blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.closeshutter", obsmsg.RequestPut, obsmsg.NewUser("alice")))
	require.True(t, resp.Status)
	assert.Equal(t, 1, leaf.callCount())
}

func TestBlockerSpecialPermissionNeedsServiceUser(t *testing.T) {
	_, blocker, leaf := gateChain(t)

	req := userRequest("zb08.dome.slewtoazimuth", obsmsg.RequestPut, obsmsg.NewServiceUser("watcher_client"))
	req.Data = map[string]interface{}{obsmsg.ParamSpecialPermission: true}
	resp := blocker.GetResponse(context.Background(), req)
	require.True(t, resp.Status)
	assert.Equal(t, 1, leaf.callCount())

	req = userRequest("zb08.dome.slewtoazimuth", obsmsg.RequestPut, obsmsg.NewUser("alice"))
	req.Data = map[string]interface{}{obsmsg.ParamSpecialPermission: true}
	resp = blocker.GetResponse(context.Background(), req)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeAccessDenied, resp.Err.Code)
}

func TestReservationLifecycle(t *testing.T) {
	grantor, blocker, leaf := gateChain(t)
	alice := obsmsg.NewUser("alice")
	bob := obsmsg.NewUser("bob")

	deadline := obsmsg.Now() + 30
	resp := grantorCommand(grantor, "take_control", alice,
		map[string]interface{}{obsmsg.ParamTimeoutReservation: deadline})
	require.True(t, resp.Status)
	assert.Equal(t, true, resp.Value.V)

	// The holder writes; everyone else is refused.
	w := blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.slewtoazimuth", obsmsg.RequestPut, alice))
	require.True(t, w.Status)
	assert.Equal(t, 1, leaf.callCount())

	w = blocker.GetResponse(context.Background(),
		userRequest("zb08.dome.slewtoazimuth", obsmsg.RequestPut, bob))
	require.NotNil(t, w.Err)
	assert.Equal(t, obsmsg.CodeAccessDenied, w.Err.Code)

	// A competing take_control fails without breaking the reservation.
	resp = grantorCommand(grantor, "take_control", bob, nil)
	require.True(t, resp.Status)
	assert.Equal(t, false, resp.Value.V)

	resp = grantorCommand(grantor, "current_user", bob, nil)
	require.True(t, resp.Status)
	info := resp.Value.V.(map[string]interface{})
	assert.Equal(t, "alice", info["name"])
	assert.Equal(t, deadline, info["timeout_control"])

	resp = grantorCommand(grantor, "is_access", alice, nil)
	assert.Equal(t, true, resp.Value.V)
	resp = grantorCommand(grantor, "is_access", bob, nil)
	assert.Equal(t, false, resp.Value.V)

	// return_control by a non-holder fails, by the holder succeeds.
	resp = grantorCommand(grantor, "return_control", bob, nil)
	assert.Equal(t, false, resp.Value.V)
	resp = grantorCommand(grantor, "return_control", alice, nil)
	assert.Equal(t, true, resp.Value.V)
	assert.Nil(t, blocker.CurrentUser())

	resp = grantorCommand(grantor, "timeout_current_control", alice, nil)
	require.True(t, resp.Status)
	assert.Nil(t, resp.Value.V)
}

func TestBreakControlEvictsAnyHolder(t *testing.T) {
	grantor, blocker, _ := gateChain(t)
	alice := obsmsg.NewUser("alice")
	bob := obsmsg.NewUser("bob")

	grantorCommand(grantor, "take_control", alice, nil)
	require.NotNil(t, blocker.CurrentUser())

	resp := grantorCommand(grantor, "break_control", bob, nil)
	require.True(t, resp.Status)
	assert.Equal(t, true, resp.Value.V)
	assert.Nil(t, blocker.CurrentUser())
}

func TestReservationTooLongRefused(t *testing.T) {
	grantor, _, _ := gateChain(t)
	resp := grantorCommand(grantor, "take_control", obsmsg.NewUser("alice"),
		map[string]interface{}{obsmsg.ParamTimeoutReservation: obsmsg.Now() + 3600})
	require.True(t, resp.Status)
	assert.Equal(t, false, resp.Value.V)
}

func TestReservationExpiresLazily(t *testing.T) {
	grantor, blocker, _ := gateChain(t)
	alice := obsmsg.NewUser("alice")

	// default_control_time is 0.2s in the test config.
	resp := grantorCommand(grantor, "take_control", alice, nil)
	assert.Equal(t, true, resp.Value.V)
	require.NotNil(t, blocker.CurrentUser())

	time.Sleep(250 * time.Millisecond)
	assert.Nil(t, blocker.CurrentUser())
}

func TestGrantorRequiresUserAndCommand(t *testing.T) {
	grantor, _, _ := gateChain(t)

	req := getRequest("zb08.access_grantor.take_control")
	req.RequestType = obsmsg.RequestPut
	req.Index = 1
	resp := grantor.GetResponse(context.Background(), req)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeUnknownRequest, resp.Err.Code)

	req = getRequest("zb08.access_grantor")
	req.RequestType = obsmsg.RequestPut
	req.User = obsmsg.NewUser("alice")
	req.Index = 1
	resp = grantor.GetResponse(context.Background(), req)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeNoCommand, resp.Err.Code)

	resp = grantorCommand(grantor, "dance", obsmsg.NewUser("alice"), nil)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeUnknownTarget, resp.Err.Code)
}
