// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	MinNameLen = 2
	MaxNameLen = 36
)

var (
	ErrNameTooShort = errors.New("name too short")
	ErrNameTooLong  = errors.New("name too long")
)

// Canonical is the normalized form of a display name. Ban checks and
// uniqueness operate on this, never on raw display casing.
type Canonical string

func Canonicalize(name string) Canonical {
	return Canonical(strings.ToLower(strings.TrimSpace(name)))
}

// Guest is one connected member of a share session.
type Guest struct {
	Name      string    `json:"name"`
	Canonical Canonical `json:"-"`
	Color     string    `json:"color,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

func NewGuest(name, color string, now time.Time) (*Guest, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < MinNameLen {
		return nil, ErrNameTooShort
	}
	if len(trimmed) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &Guest{
		Name:      trimmed,
		Canonical: Canonicalize(trimmed),
		Color:     color,
		JoinedAt:  now,
	}, nil
}
