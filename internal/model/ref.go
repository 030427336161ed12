package model

import (
	"errors"
	"fmt"
	"regexp"
)

// Physical reference levels: the entity whose quantity is being priced
// or hedged.
const (
	LevelOrder    = "order"
	LevelShipment = "shipment"
	LevelTicket   = "ticket"
)

var validLevels = map[string]bool{
	LevelOrder:    true,
	LevelShipment: true,
	LevelTicket:   true,
}

// refRegex matches: {level}:{id}
// Example: shipment:7f3c9a12-55d1-4e0b-9c2f-8a1b2c3d4e5f
var refRegex = regexp.MustCompile(`^([a-z]+):([A-Za-z0-9-]+)$`)

var (
	ErrInvalidRef      = errors.New("model: invalid physical reference format")
	ErrInvalidRefLevel = errors.New("model: unsupported physical reference level")
)

// PhysicalRef is a tagged reference to the order, shipment, or ticket
// whose quantity is being priced/hedged. The level discriminates which
// table the ID points into; resolution goes through an explicit lookup
// interface rather than ambient field probing.
type PhysicalRef struct {
	Level string `json:"level"`
	ID    string `json:"id"`
}

// String renders the ref in "{level}:{id}" form.
func (r PhysicalRef) String() string {
	return r.Level + ":" + r.ID
}

// IsZero reports whether the ref is unset.
func (r PhysicalRef) IsZero() bool {
	return r.Level == "" && r.ID == ""
}

// Validate checks level and ID are present and the level is known.
func (r PhysicalRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRef)
	}
	if !validLevels[r.Level] {
		return fmt.Errorf("%w: %s", ErrInvalidRefLevel, r.Level)
	}
	return nil
}

// ParseRef parses and validates a "{level}:{id}" reference string.
func ParseRef(s string) (PhysicalRef, error) {
	matches := refRegex.FindStringSubmatch(s)
	if matches == nil {
		return PhysicalRef{}, fmt.Errorf("%w: %s (expected {level}:{id})", ErrInvalidRef, s)
	}
	ref := PhysicalRef{Level: matches[1], ID: matches[2]}
	if !validLevels[ref.Level] {
		return PhysicalRef{}, fmt.Errorf("%w: %s", ErrInvalidRefLevel, ref.Level)
	}
	return ref, nil
}
