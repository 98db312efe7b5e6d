/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"github.com/pkg/errors"

	"obs/common/alpaca"
	"obs/common/obscfg"
	"obs/common/obstree"
)

// buildTree assembles the component tree from the "telescopes" list in the
// configuration.  Every telescope gets the full chain:
//
//	adapter -> blocker -> [grantor] -> broker -> cache -> freezer -> provider
//
// and a front broker routes between the named providers.  The grantor is a
// leaf of the per-telescope broker with the blocker as the broker's default
// target, so every address the grantor does not claim goes through the
// access gate to the hardware.
func buildTree(cfg *obscfg.Config) (obstree.Component, error) {
	telescopes := cfg.GetStrings("telescopes")
	if len(telescopes) == 0 {
		return nil, errors.New("no telescopes configured")
	}

	providers := make([]obstree.Source, 0, len(telescopes))
	for _, name := range telescopes {
		providers = append(providers, buildTelescope(cfg, name))
	}
	return obstree.NewBroker("front", providers), nil
}

func buildTelescope(cfg *obscfg.Config, name string) *obstree.Provider {
	adapter := alpaca.NewObservatoryAdapter("alpaca-"+name, name)
	blocker := obstree.NewRequestBlocker("blocker-"+name, adapter)
	grantor := obstree.NewAccessGrantor("grantor-"+name, "access_grantor", blocker)
	broker := obstree.NewDefaultTargetBroker("broker-"+name,
		[]obstree.Source{grantor}, blocker)
	cache := obstree.NewCache("cache-"+name, broker)
	freezer := obstree.NewConditionalFreezer("freezer-"+name, cache)

	// A provider may answer to alternate address segments besides its
	// telescope name.
	sourceNames := append([]string{name},
		cfg.GetStrings("tree", "provider-"+name, "aliases")...)
	return obstree.NewProvider("provider-"+name, "provider", sourceNames, freezer)
}
