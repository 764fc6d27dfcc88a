/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package capability defines the versioned permission vocabulary of the
// server's REST API and the grantee capability sets built from it.
//
// A capability is a named permission ("Read", "ExportData", ...) scoped to a
// resource kind. Which names exist depends on the API version: the oldest
// version (2.0) carries the full workbook vocabulary on projects, later
// versions reduce projects to ProjectLeader/Read/Write. Role presets differ
// along the same family boundary.
package capability

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnsupportedVersion  = errors.New("unsupported api version")
	ErrInvalidResourceKind = errors.New("invalid resource kind")
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrInvalidCapability   = errors.New("invalid capability")
	ErrUnknownRole         = errors.New("unknown role")
)

// Version is a REST API version string such as "2.8".
type Version string

// Kind is the resource kind a capability applies to.
type Kind string

const (
	KindProject    Kind = "project"
	KindWorkbook   Kind = "workbook"
	KindDatasource Kind = "datasource"
)

// Wire names of every capability known to any supported version.
const (
	AddComment         = "AddComment"
	ChangeHierarchy    = "ChangeHierarchy"
	ChangePermissions  = "ChangePermissions"
	Connect            = "Connect"
	Delete             = "Delete"
	ExportData         = "ExportData"
	ExportImage        = "ExportImage"
	ExportXml          = "ExportXml"
	Filter             = "Filter"
	ProjectLeader      = "ProjectLeader"
	Read               = "Read"
	ShareView          = "ShareView"
	ViewComments       = "ViewComments"
	ViewUnderlyingData = "ViewUnderlyingData"
	WebAuthoring       = "WebAuthoring"
	Write              = "Write"

	// All is the blanket sentinel. It is accepted by ToWireName but never
	// stored on a Grantee.
	All = "all"
)

// family selects the schema and preset tables shared by a range of versions.
type family int

const (
	familyEarly family = iota
	familyLater
)

var workbookCapabilities = []string{
	AddComment, ChangeHierarchy, ChangePermissions, Delete, ExportData, ExportImage,
	ExportXml, Filter, Read, ShareView, ViewComments, ViewUnderlyingData, WebAuthoring, Write,
}

var datasourceCapabilities = []string{
	ChangePermissions, Connect, Delete, ExportXml, Read, Write,
}

// schemas is the (family, kind) -> capability set table.
var schemas = map[family]map[Kind]nameSet{
	familyEarly: {
		KindProject:    newNameSet(append([]string{ProjectLeader}, workbookCapabilities...)...),
		KindWorkbook:   newNameSet(workbookCapabilities...),
		KindDatasource: newNameSet(datasourceCapabilities...),
	},
	familyLater: {
		KindProject:    newNameSet(ProjectLeader, Read, Write),
		KindWorkbook:   newNameSet(workbookCapabilities...),
		KindDatasource: newNameSet(datasourceCapabilities...),
	},
}

// versions maps each supported API version to its family.
var versions = map[Version]family{
	"2.0": familyEarly,
	"2.1": familyLater,
	"2.2": familyLater,
	"2.3": familyLater,
	"2.4": familyLater,
	"2.5": familyLater,
	"2.6": familyLater,
	"2.7": familyLater,
	"2.8": familyLater,
	"3.0": familyLater,
	"3.1": familyLater,
	"3.2": familyLater,
}

type nameSet map[string]struct{}

func newNameSet(names ...string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s nameSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SupportedVersions returns every supported API version in ascending order.
func SupportedVersions() []Version {
	out := make([]Version, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidKind reports whether k is one of the three resource kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindProject, KindWorkbook, KindDatasource:
		return true
	default:
		return false
	}
}

func lookupFamily(v Version) (family, error) {
	f, ok := versions[v]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	return f, nil
}

func lookupSchema(v Version, k Kind) (nameSet, family, error) {
	f, err := lookupFamily(v)
	if err != nil {
		return nil, 0, err
	}
	if !ValidKind(k) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidResourceKind, k)
	}
	return schemas[f][k], f, nil
}

// CapabilitiesFor returns the sorted wire names defined for kind under version.
func CapabilitiesFor(v Version, k Kind) ([]string, error) {
	set, _, err := lookupSchema(v, k)
	if err != nil {
		return nil, err
	}
	return set.sorted(), nil
}
