/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package capability

import (
	"fmt"

	"github.com/go-logr/logr"
)

// PrincipalType distinguishes user and group grantees.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// Grantee is the capability set granted to one principal on one resource
// kind. Every capability of the kind's schema is always present; absence of
// a grant is recorded as Unspecified.
type Grantee struct {
	// Type is user or group.
	Type PrincipalType

	// LUID identifies the principal on the server.
	LUID string

	version Version
	kind    Kind
	schema  nameSet
	caps    map[string]Mode
	log     logr.Logger
}

// GranteeOption configures a Grantee.
type GranteeOption func(*Grantee)

// WithLogger sets the logger used to report dropped capability names.
func WithLogger(log logr.Logger) GranteeOption {
	return func(g *Grantee) { g.log = log }
}

// NewGrantee creates a grantee with every capability Unspecified.
func NewGrantee(v Version, k Kind, t PrincipalType, luid string, opts ...GranteeOption) (*Grantee, error) {
	schema, _, err := lookupSchema(v, k)
	if err != nil {
		return nil, err
	}
	switch t {
	case PrincipalUser, PrincipalGroup:
	default:
		return nil, fmt.Errorf("invalid principal type %q", t)
	}

	g := &Grantee{
		Type:    t,
		LUID:    luid,
		version: v,
		kind:    k,
		schema:  schema,
		caps:    make(map[string]Mode, len(schema)),
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.SetAll(Unspecified)
	return g, nil
}

// Kind returns the resource kind of the grant.
func (g *Grantee) Kind() Kind { return g.kind }

// Version returns the API version whose schema the grant uses.
func (g *Grantee) Version() Version { return g.version }

// Set grants mode (Allow or Deny) for the named capability. The name may be
// a UI name or a wire name. An unknown name is an error on projects; on
// workbooks and datasources it is logged and ignored.
func (g *Grantee) Set(name string, mode Mode) error {
	if mode != Allow && mode != Deny {
		return fmt.Errorf("%w: mode %q for %q", ErrInvalidCapability, mode, name)
	}
	wire, ok, err := g.resolve(name)
	if err != nil || !ok {
		return err
	}
	g.caps[wire] = mode
	return nil
}

// Clear resets the named capability to Unspecified.
func (g *Grantee) Clear(name string) error {
	wire, ok, err := g.resolve(name)
	if err != nil || !ok {
		return err
	}
	g.caps[wire] = Unspecified
	return nil
}

// resolve maps name to a schema wire name. ok is false when the name was
// dropped.
func (g *Grantee) resolve(name string) (string, bool, error) {
	wire, err := ToWireName(name)
	if err == nil && wire != All && g.schema.has(wire) {
		return wire, true, nil
	}
	if g.kind == KindProject {
		return "", false, fmt.Errorf("%w: %q is not a %s capability under %s", ErrInvalidCapability, name, g.kind, g.version)
	}
	g.log.Info("ignoring capability not in schema",
		"capability", name, "kind", string(g.kind), "version", string(g.version))
	return "", false, nil
}

// SetAll sets every capability of the schema to mode.
func (g *Grantee) SetAll(mode Mode) {
	for name := range g.schema {
		g.caps[name] = mode
	}
}

// ApplyRole replaces the grant with the role's preset. It is a full reset,
// so applying the same role always yields the same grant.
func (g *Grantee) ApplyRole(role string) error {
	p, err := RolePreset(g.version, g.kind, role)
	if err != nil {
		return err
	}
	g.SetAll(Unspecified)
	if p.Blanket != nil {
		g.SetAll(*p.Blanket)
	}
	for name, mode := range p.Overrides {
		if !g.schema.has(name) {
			continue
		}
		g.caps[name] = mode
	}
	return nil
}

// Mode returns the current mode of the named capability.
func (g *Grantee) Mode(name string) (Mode, error) {
	wire, err := ToWireName(name)
	if err != nil {
		return Unspecified, err
	}
	m, ok := g.caps[wire]
	if !ok {
		return Unspecified, fmt.Errorf("%w: %q is not a %s capability", ErrInvalidCapability, name, g.kind)
	}
	return m, nil
}

// Capabilities returns a copy of the wire name -> mode map.
func (g *Grantee) Capabilities() map[string]Mode {
	out := make(map[string]Mode, len(g.caps))
	for n, m := range g.caps {
		out[n] = m
	}
	return out
}

// Granted returns only the capabilities set to Allow or Deny.
func (g *Grantee) Granted() map[string]Mode {
	out := make(map[string]Mode)
	for n, m := range g.caps {
		if m != Unspecified {
			out[n] = m
		}
	}
	return out
}

// Equal reports whether other has the same principal and an identical
// capability map.
func (g *Grantee) Equal(other *Grantee) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.LUID != other.LUID || len(g.caps) != len(other.caps) {
		return false
	}
	for n, m := range g.caps {
		om, ok := other.caps[n]
		if !ok || om != m {
			return false
		}
	}
	return true
}

// IdenticalGrants compares a set of desired grants against what a
// destination already holds. Every principal in desired must appear in dest,
// and each shared principal's capability map must match.
func IdenticalGrants(desired, dest []*Grantee) bool {
	byLUID := make(map[string]*Grantee, len(dest))
	for _, d := range dest {
		if d != nil {
			byLUID[d.LUID] = d
		}
	}
	for _, n := range desired {
		if n == nil {
			continue
		}
		d, ok := byLUID[n.LUID]
		if !ok {
			return false
		}
		if !n.Equal(d) {
			return false
		}
	}
	return true
}
