/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package capability

import "fmt"

// friendlyToWire maps the names shown in the server UI to REST wire names.
var friendlyToWire = map[string]string{
	"Add Comment":          AddComment,
	"Move":                 ChangeHierarchy,
	"Set Permissions":      ChangePermissions,
	"Connect":              Connect,
	"Delete":               Delete,
	"View Summary Data":    ExportData,
	"Export Image":         ExportImage,
	"Download":             ExportXml,
	"Filter":               Filter,
	"Project Leader":       ProjectLeader,
	"View":                 Read,
	"Share Customized":     ShareView,
	"View Comments":        ViewComments,
	"View Underlying Data": ViewUnderlyingData,
	"Web Edit":             WebAuthoring,
	"Save":                 Write,
	All:                    All,
}

var wireToFriendly = func() map[string]string {
	m := make(map[string]string, len(friendlyToWire))
	for f, w := range friendlyToWire {
		m[w] = f
	}
	return m
}()

// ToWireName translates a UI name to its wire name. Names that are already
// wire names are returned unchanged.
func ToWireName(name string) (string, error) {
	if w, ok := friendlyToWire[name]; ok {
		return w, nil
	}
	if _, ok := wireToFriendly[name]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
}

// ToFriendlyName translates a wire name to its UI name.
func ToFriendlyName(wire string) (string, error) {
	if f, ok := wireToFriendly[wire]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, wire)
}
