package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field keys of a PolicyRecord as sent by the backend.
const (
	FieldName              = "name"
	FieldDescription       = "description"
	FieldFingerprint       = "fingerprint"
	FieldType              = "type"
	FieldCreationTimestamp = "creation_timestamp"
	FieldRules             = "rules"
)

var ErrNotAnObject = errors.New("policy record is not a JSON object")

// PolicyRecord is one security policy as listed by the backend. All
// fields are display text; nothing is parsed or validated.
type PolicyRecord struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Fingerprint       string `json:"fingerprint"`
	Type              string `json:"type"`
	CreationTimestamp string `json:"creation_timestamp"`
	Rules             string `json:"rules"`
}

// UnmarshalJSON decodes a record leniently. Missing and null fields are
// left blank, strings are taken verbatim and any other value is kept as
// its compact JSON text.
func (p *PolicyRecord) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotAnObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decoding policy record: %w", err)
	}

	var rec PolicyRecord
	for key, dst := range map[string]*string{
		FieldName:              &rec.Name,
		FieldDescription:       &rec.Description,
		FieldFingerprint:       &rec.Fingerprint,
		FieldType:              &rec.Type,
		FieldCreationTimestamp: &rec.CreationTimestamp,
		FieldRules:             &rec.Rules,
	} {
		text, err := displayText(raw[key])
		if err != nil {
			return fmt.Errorf("decoding policy field %s: %w", key, err)
		}
		*dst = text
	}

	*p = rec
	return nil
}

func displayText(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Field returns the value of the field with the given key, or the empty
// string for an unknown key.
func (p PolicyRecord) Field(key string) string {
	switch key {
	case FieldName:
		return p.Name
	case FieldDescription:
		return p.Description
	case FieldFingerprint:
		return p.Fingerprint
	case FieldType:
		return p.Type
	case FieldCreationTimestamp:
		return p.CreationTimestamp
	case FieldRules:
		return p.Rules
	}
	return ""
}
