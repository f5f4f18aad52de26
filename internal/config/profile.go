package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML form of the processing settings. Only keys present in
// the file override the environment.
//
//	num_floors: 4
//	session_idle_timeout: 45m
//	top_devices: 5
//	granted_phrase: ACCESS GRANTED
//	invalid_exact: [INVALID ACCESS LEVEL]
//	invalid_contains: [NO ENTRY MADE, DOOR FORCED]
//	duplicate_scan_window: 10s
type Profile struct {
	NumFloors           *int           `yaml:"num_floors"`
	SessionIdleTimeout  *time.Duration `yaml:"session_idle_timeout"`
	TopDevices          *int           `yaml:"top_devices"`
	GrantedPhrase       *string        `yaml:"granted_phrase"`
	InvalidExact        []string       `yaml:"invalid_exact"`
	InvalidContains     []string       `yaml:"invalid_contains"`
	DuplicateScanWindow *time.Duration `yaml:"duplicate_scan_window"`
}

// ParseProfile decodes a profile, rejecting unknown keys.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

// ApplyProfile reads the YAML file at path and overlays it onto p.
func ApplyProfile(p *ProcessingConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile %s: %w", path, err)
	}
	prof, err := ParseProfile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	prof.Overlay(p)
	return nil
}

// Overlay copies every set profile value onto p.
func (prof *Profile) Overlay(p *ProcessingConfig) {
	if prof.NumFloors != nil {
		p.NumFloors = *prof.NumFloors
	}
	if prof.SessionIdleTimeout != nil {
		p.SessionIdleTimeout = *prof.SessionIdleTimeout
	}
	if prof.TopDevices != nil {
		p.TopDevices = *prof.TopDevices
	}
	if prof.GrantedPhrase != nil {
		p.GrantedPhrase = *prof.GrantedPhrase
	}
	if prof.InvalidExact != nil {
		p.InvalidExact = prof.InvalidExact
	}
	if prof.InvalidContains != nil {
		p.InvalidContains = prof.InvalidContains
	}
	if prof.DuplicateScanWindow != nil {
		p.DuplicateScanWindow = *prof.DuplicateScanWindow
	}
}
