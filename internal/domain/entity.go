package domain

import "strings"

// Machine is a managed host reached through a bridge.
type Machine struct {
	Team   string  `json:"team"`
	Name   string  `json:"name"`
	Bridge string  `json:"bridge"`
	Vault  Payload `json:"vault,omitempty"`
}

// Storage is an external storage target for pushes.
type Storage struct {
	Team  string  `json:"team"`
	Name  string  `json:"name"`
	Vault Payload `json:"vault,omitempty"`
}

func (m Machine) Validate() error {
	switch {
	case strings.TrimSpace(m.Team) == "":
		return &ValidationError{Field: "team", Message: "is required"}
	case strings.TrimSpace(m.Name) == "":
		return &ValidationError{Field: "machine name", Message: "is required"}
	case strings.TrimSpace(m.Bridge) == "":
		return &ValidationError{Field: "bridge", Message: "is required"}
	}
	return nil
}

func (s Storage) Validate() error {
	switch {
	case strings.TrimSpace(s.Team) == "":
		return &ValidationError{Field: "team", Message: "is required"}
	case strings.TrimSpace(s.Name) == "":
		return &ValidationError{Field: "storage name", Message: "is required"}
	}
	return nil
}
