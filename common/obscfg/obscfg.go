/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package obscfg loads the YAML configuration consumed by the observatory
// daemons.  Tree components read their settings through a Scope, which
// resolves each key through the cascade
//
//	tree.<component>.<key>  ->  data_collection.<Type>.<key>  ->  hard default
//
// so a single per-type section can configure every cache or freezer in the
// tree while any individual component may still be overridden.
package obscfg

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a parsed configuration tree.
type Config struct {
	data map[string]interface{}
}

// New wraps an already-built map, mainly for tests.
func New(data map[string]interface{}) *Config {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Config{data: data}
}

// Load reads and merges the given YAML files in order; later files override
// earlier ones key by key.
func Load(paths ...string) (*Config, error) {
	merged := make(map[string]interface{})
	for _, p := range paths {
		raw, err := ioutil.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", p)
		}
		var m map[string]interface{}
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", p)
		}
		merge(merged, m)
	}
	return &Config{data: merged}, nil
}

func merge(dst, src map[string]interface{}) {
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// Get walks the tree along path and returns the node found there.
func (c *Config) Get(path ...string) (interface{}, bool) {
	var cur interface{} = c.data
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetMap returns the map at path, or nil.
func (c *Config) GetMap(path ...string) map[string]interface{} {
	v, ok := c.Get(path...)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// GetString returns the string at path.
func (c *Config) GetString(path ...string) (string, bool) {
	v, ok := c.Get(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetFloat returns the number at path, coercing integer YAML scalars.
func (c *Config) GetFloat(path ...string) (float64, bool) {
	v, ok := c.Get(path...)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

// GetInt returns the integer at path.
func (c *Config) GetInt(path ...string) (int, bool) {
	f, ok := c.GetFloat(path...)
	return int(f), ok
}

// GetBool returns the boolean at path.
func (c *Config) GetBool(path ...string) (bool, bool) {
	v, ok := c.Get(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetStrings returns the string list at path; scalar entries of other types
// are skipped.
func (c *Config) GetStrings(path ...string) []string {
	v, ok := c.Get(path...)
	if !ok {
		return nil
	}
	return asStrings(v)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asStrings(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Scope is a component's view of the configuration.
type Scope struct {
	c         *Config
	component string
	typeName  string
}

// Scope builds the cascade view for one named component of the given type.
func (c *Config) Scope(component, typeName string) *Scope {
	return &Scope{c: c, component: component, typeName: typeName}
}

// Component returns the component name this scope resolves for.
func (s *Scope) Component() string {
	return s.component
}

// Value resolves key through the cascade without type coercion.
func (s *Scope) Value(key string) (interface{}, bool) {
	if v, ok := s.c.Get("tree", s.component, key); ok {
		return v, true
	}
	if v, ok := s.c.Get("data_collection", s.typeName, key); ok {
		return v, true
	}
	return nil, false
}

// Float resolves a numeric setting, falling back to def.
func (s *Scope) Float(key string, def float64) float64 {
	v, ok := s.Value(key)
	if !ok {
		return def
	}
	if f, ok := asFloat(v); ok {
		return f
	}
	return def
}

// Int resolves an integer setting, falling back to def.
func (s *Scope) Int(key string, def int) int {
	return int(s.Float(key, float64(def)))
}

// Bool resolves a boolean setting, falling back to def.
func (s *Scope) Bool(key string, def bool) bool {
	v, ok := s.Value(key)
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// String resolves a string setting, falling back to def.
func (s *Scope) String(key, def string) string {
	v, ok := s.Value(key)
	if !ok {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// Strings resolves a string-list setting.
func (s *Scope) Strings(key string) []string {
	v, ok := s.Value(key)
	if !ok {
		return nil
	}
	return asStrings(v)
}

// StringLists resolves a map of string lists, the shape of the blocker's
// white_list/black_list sections.
func (s *Scope) StringLists(key string) map[string][]string {
	v, ok := s.Value(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, e := range m {
		out[k] = asStrings(e)
	}
	return out
}

// Map resolves a nested map setting, the shape of the adapter's
// observatory section.
func (s *Scope) Map(key string) map[string]interface{} {
	v, ok := s.Value(key)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// Effective flattens the settings visible through this scope, type defaults
// first, component overrides on top.  The request solver aggregates these
// into the published tree configuration report.
func (s *Scope) Effective() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range s.c.GetMap("data_collection", s.typeName) {
		out[k] = v
	}
	for k, v := range s.c.GetMap("tree", s.component) {
		out[k] = v
	}
	return out
}
