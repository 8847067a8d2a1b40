package registry

import "github.com/drblury/hookflow/internal/runtime/envelope"

// Level names the precedence tier a dispatch was resolved at.
type Level string

const (
	LevelNone          Level = "none"
	LevelStatus        Level = "status"
	LevelType          Level = "type"
	LevelFamily        Level = "family"
	LevelDefault       Level = "default"
	LevelProblemReport Level = "problem_report"
)

// Key identifies a registration. Family and Version are always set; Name is
// empty for family-level keys and Status is empty unless the key is
// status-qualified.
type Key struct {
	Family  string `json:"family"`
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
}

func FamilyKey(family, version string) Key {
	return Key{Family: family, Version: version}
}

func TypeKey(family, version, name string) Key {
	return Key{Family: family, Version: version, Name: name}
}

func StatusKey(family, version, name, status string) Key {
	return Key{Family: family, Version: version, Name: name, Status: status}
}

// KeyForType builds the type-level key of a parsed identifier.
func KeyForType(mt envelope.MessageType) Key {
	return TypeKey(mt.Family, mt.Version, mt.Name)
}

// Level reports which tier k registers at.
func (k Key) Level() Level {
	switch {
	case k.Name == "":
		return LevelFamily
	case k.Status == "":
		return LevelType
	default:
		return LevelStatus
	}
}

func (k Key) String() string {
	s := k.Family + "/" + k.Version
	if k.Name != "" {
		s += "/" + k.Name
	}
	if k.Status != "" {
		s += "#" + k.Status
	}
	return s
}
