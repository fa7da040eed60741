// Package override replaces or supplements remote settings with local values.
package override

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

var (
	ErrUnknownBehaviour = errors.New("unknown override behaviour")
	ErrInvalidFile      = errors.New("invalid override file")
)

// Behaviour decides how local values combine with the remote document.
type Behaviour int

const (
	// LocalOnly ignores the remote document entirely.
	LocalOnly Behaviour = iota
	// LocalOverRemote merges both, local values winning on key conflicts.
	LocalOverRemote
	// RemoteOverLocal merges both, remote values winning on key conflicts.
	RemoteOverLocal
)

func (b Behaviour) String() string {
	switch b {
	case LocalOnly:
		return "local_only"
	case LocalOverRemote:
		return "local_over_remote"
	case RemoteOverLocal:
		return "remote_over_local"
	default:
		return fmt.Sprintf("Behaviour(%d)", int(b))
	}
}

// ParseBehaviour accepts the String forms, ignoring case and dashes.
func ParseBehaviour(s string) (Behaviour, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "local_only":
		return LocalOnly, nil
	case "local_over_remote":
		return LocalOverRemote, nil
	case "remote_over_local":
		return RemoteOverLocal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBehaviour, s)
}

// Source holds local settings. It is immutable once built.
type Source struct {
	behaviour Behaviour
	doc       *rules.Document
}

// FromMap builds a source from plain values. bool, string, integer and float
// values map to the matching setting type; anything else becomes an
// unsupported setting that fails to evaluate.
func FromMap(values map[string]any, b Behaviour) *Source {
	settings := make(map[string]*rules.Setting, len(values))
	for key, v := range values {
		settings[key] = settingFor(v)
	}
	return &Source{behaviour: b, doc: &rules.Document{Settings: settings}}
}

// FromFile reads overrides from a YAML or JSON file. Both accept the simple
// form {"flags": {"key": value}}; JSON files may instead hold a complete
// configuration document.
func FromFile(path string, b Behaviour) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var simple struct {
			Flags map[string]any `yaml:"flags"`
		}
		if err := yaml.Unmarshal(data, &simple); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return FromMap(simple.Flags, b), nil
	default:
		return fromJSON(data, b)
	}
}

func fromJSON(data []byte, b Behaviour) (*Source, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	if raw, ok := probe["flags"]; ok {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var flags map[string]any
		if err := dec.Decode(&flags); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return FromMap(flags, b), nil
	}

	doc, err := rules.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return &Source{behaviour: b, doc: doc}, nil
}

func (s *Source) Behaviour() Behaviour {
	return s.behaviour
}

// Document returns the local settings as a document.
func (s *Source) Document() *rules.Document {
	return s.doc
}

// Apply combines the local settings with remote. remote may be nil. The
// result is a new document; neither input is modified. Merged documents keep
// the remote preferences and segments.
func (s *Source) Apply(remote *rules.Document) *rules.Document {
	if s.behaviour == LocalOnly || remote == nil {
		return s.doc
	}

	merged := &rules.Document{
		Preferences: remote.Preferences,
		Segments:    remote.Segments,
		Settings:    make(map[string]*rules.Setting, len(remote.Settings)+len(s.doc.Settings)),
	}
	first, second := remote.Settings, s.doc.Settings
	if s.behaviour == RemoteOverLocal {
		first, second = second, first
	}
	maps.Copy(merged.Settings, first)
	maps.Copy(merged.Settings, second)
	return merged
}

func settingFor(v any) *rules.Setting {
	switch x := v.(type) {
	case bool:
		return &rules.Setting{Type: rules.SettingTypeBool, Value: rules.SettingValue{Bool: &x}}
	case string:
		return &rules.Setting{Type: rules.SettingTypeString, Value: rules.SettingValue{String: &x}}
	case int:
		return intSetting(x)
	case int8:
		return intSetting(int(x))
	case int16:
		return intSetting(int(x))
	case int32:
		return intSetting(int(x))
	case int64:
		return intSetting(int(x))
	case uint8:
		return intSetting(int(x))
	case uint16:
		return intSetting(int(x))
	case uint32:
		return intSetting(int(x))
	case float32:
		return doubleSetting(float64(x))
	case float64:
		return doubleSetting(x)
	case json.Number:
		if i, err := x.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return intSetting(int(i))
		}
		if f, err := x.Float64(); err == nil {
			return doubleSetting(f)
		}
	}
	return &rules.Setting{Type: rules.SettingTypeUnsupported, Value: rules.SettingValue{Unsupported: unsupported(v)}}
}

// unsupported keeps v reportable even when it is nil.
func unsupported(v any) any {
	if v == nil {
		return struct{}{}
	}
	return v
}

func intSetting(i int) *rules.Setting {
	return &rules.Setting{Type: rules.SettingTypeInt, Value: rules.SettingValue{Int: &i}}
}

func doubleSetting(f float64) *rules.Setting {
	return &rules.Setting{Type: rules.SettingTypeDouble, Value: rules.SettingValue{Double: &f}}
}
