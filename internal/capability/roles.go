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
	"sort"
)

// Mode is the grant state of a single capability.
type Mode string

const (
	Unspecified Mode = ""
	Allow       Mode = "Allow"
	Deny        Mode = "Deny"
)

// String returns "Unspecified" for the zero mode.
func (m Mode) String() string {
	if m == Unspecified {
		return "Unspecified"
	}
	return string(m)
}

// Built-in role names.
const (
	RoleViewer        = "Viewer"
	RoleInteractor    = "Interactor"
	RoleEditor        = "Editor"
	RolePublisher     = "Publisher"
	RoleProjectLeader = "Project Leader"
	RoleConnector     = "Connector"
)

// Preset is a named bundle of capability settings. Blanket, when set, is
// applied to every capability of the kind first; Overrides are applied
// afterwards and win. An override of Unspecified clears whatever the blanket
// set.
type Preset struct {
	Blanket   *Mode
	Overrides map[string]Mode
}

func blanket(m Mode) *Mode { return &m }

func allow(names ...string) map[string]Mode {
	out := make(map[string]Mode, len(names))
	for _, n := range names {
		out[n] = Allow
	}
	return out
}

func unspecified(names ...string) map[string]Mode {
	out := make(map[string]Mode, len(names))
	for _, n := range names {
		out[n] = Unspecified
	}
	return out
}

var viewerWorkbook = Preset{Overrides: allow(Read, ExportImage, ExportData, ViewComments, AddComment)}

var interactorWorkbook = Preset{
	Blanket:   blanket(Allow),
	Overrides: unspecified(ExportXml, ChangeHierarchy, Delete, ChangePermissions, Write),
}

var editorWorkbook = Preset{Blanket: blanket(Allow)}

// presets is the (family, kind, role) table.
var presets = map[family]map[Kind]map[string]Preset{
	familyEarly: {
		KindProject: {
			RoleViewer:     viewerWorkbook,
			RoleInteractor: {Blanket: blanket(Allow), Overrides: unspecified(ExportXml, ChangeHierarchy, Delete, ChangePermissions, Write, ProjectLeader)},
			RoleEditor:     {Blanket: blanket(Allow), Overrides: unspecified(ProjectLeader)},
			RolePublisher:  {Overrides: allow(Read, Write)},
			RoleProjectLeader: {
				Blanket: blanket(Allow),
			},
		},
		KindWorkbook: {
			RoleViewer:     viewerWorkbook,
			RoleInteractor: interactorWorkbook,
			RoleEditor:     editorWorkbook,
		},
		KindDatasource: {
			RoleConnector: {Overrides: allow(Read, Connect)},
			RoleEditor:    {Blanket: blanket(Allow)},
		},
	},
	familyLater: {
		KindProject: {
			RoleViewer:        {Overrides: allow(Read)},
			RolePublisher:     {Overrides: allow(Read, Write)},
			RoleProjectLeader: {Overrides: allow(ProjectLeader)},
		},
		KindWorkbook: {
			RoleViewer:     viewerWorkbook,
			RoleInteractor: interactorWorkbook,
			RoleEditor:     editorWorkbook,
		},
		KindDatasource: {
			RoleConnector: {Overrides: allow(Read, Connect)},
			RoleEditor:    {Blanket: blanket(Allow)},
		},
	},
}

// RolePreset returns the preset for role on kind under version. The returned
// Overrides map is a copy.
func RolePreset(v Version, k Kind, role string) (Preset, error) {
	_, f, err := lookupSchema(v, k)
	if err != nil {
		return Preset{}, err
	}
	p, ok := presets[f][k][role]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q for %s under %s", ErrUnknownRole, role, k, v)
	}
	out := Preset{Overrides: make(map[string]Mode, len(p.Overrides))}
	if p.Blanket != nil {
		out.Blanket = blanket(*p.Blanket)
	}
	for n, m := range p.Overrides {
		out.Overrides[n] = m
	}
	return out, nil
}

// Roles returns the role names defined for kind under version, sorted.
func Roles(v Version, k Kind) ([]string, error) {
	_, f, err := lookupSchema(v, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(presets[f][k]))
	for name := range presets[f][k] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
