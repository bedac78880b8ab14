// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"encoding/base64"
	"strings"

	"github.com/samber/oops"
)

// FieldBinding ties a configuration key to a widget property in the config UI.
type FieldBinding struct {
	Name     string
	Widget   string
	Property string
}

// ConfigUI is the decoded getConfigUi() payload handed to the Form collaborator.
type ConfigUI struct {
	Fields []FieldBinding
	// Widget is the decoded UI definition.
	Widget []byte
	// Images maps resource names referenced by Widget to image bytes.
	Images map[string][]byte
}

// FieldValue is one entry of a Snapshot.
type FieldValue struct {
	Field    string
	Property string
	Value    any
}

// Snapshot is an ordered list of configuration values bound to widget properties.
type Snapshot []FieldValue

// NewSnapshot orders config values by fields. Keys missing from config
// yield nil values.
func NewSnapshot(fields []FieldBinding, config map[string]any) Snapshot {
	s := make(Snapshot, 0, len(fields))
	for _, f := range fields {
		s = append(s, FieldValue{Field: f.Name, Property: f.Property, Value: config[f.Name]})
	}
	return s
}

// Map returns the snapshot as a configuration map keyed by field name.
func (s Snapshot) Map() map[string]any {
	m := make(map[string]any, len(s))
	for _, v := range s {
		m[v.Field] = v.Value
	}
	return m
}

// parseConfigUI decodes a getConfigUi() map. Field entries without a name,
// widget or property are skipped.
func parseConfigUI(m map[string]any) (*ConfigUI, error) {
	ui := &ConfigUI{Images: make(map[string][]byte)}

	for _, item := range asList(m["fields"]) {
		f, ok := asMap(item)
		if !ok {
			continue
		}
		b := FieldBinding{
			Name:     strings.TrimSpace(asString(f["name"])),
			Widget:   strings.TrimSpace(asString(f["widget"])),
			Property: strings.TrimSpace(asString(f["property"])),
		}
		if b.Name == "" || b.Widget == "" || b.Property == "" {
			continue
		}
		ui.Fields = append(ui.Fields, b)
	}

	if data := asString(m["widget"]); data != "" {
		blob, err := decodeBlob(data, asBool(m["compressed"]))
		if err != nil {
			return nil, oops.In("resolver").Hint("invalid config widget payload").Wrap(err)
		}
		ui.Widget = blob
	}

	for _, item := range asList(m["images"]) {
		entries, ok := asMap(item)
		if !ok {
			continue
		}
		for name, data := range entries {
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(asString(data)))
			if err != nil {
				return nil, oops.In("resolver").With("image", name).Hint("invalid config image").Wrap(err)
			}
			ui.Images[name] = raw
		}
	}
	return ui, nil
}

// MissingWidgetError is returned by a Form when a field names a widget it
// does not contain.
type MissingWidgetError struct {
	Field  string
	Widget string
}

func (e *MissingWidgetError) Error() string {
	return "no widget " + e.Widget + " for field " + e.Field
}
