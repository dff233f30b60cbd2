// Package entity defines the core business entities for the project host.
package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// SlugSeparator joins the name and id in the display form of a Slug.
const SlugSeparator = "-"

// Slug identifies a user or a project by a human-readable name and a
// numeric id.
type Slug struct {
	ID   int64
	Name string
}

// NewSlug builds a Slug and checks its invariants.
func NewSlug(id int64, name string) (Slug, error) {
	s := Slug{ID: id, Name: name}
	if err := s.Validate(); err != nil {
		return Slug{}, err
	}
	return s, nil
}

// Validate reports whether the slug can be rendered and parsed back.
func (s Slug) Validate() error {
	switch {
	case s.Name == "":
		return &ValidationError{Field: "name", Rule: "slug", Message: "slug name is empty"}
	case strings.Contains(s.Name, SlugSeparator):
		return &ValidationError{Field: "name", Rule: "slug", Message: fmt.Sprintf("slug name %q contains %q", s.Name, SlugSeparator)}
	case strings.ContainsAny(s.Name, "/\x00"):
		return &ValidationError{Field: "name", Rule: "slug", Message: fmt.Sprintf("slug name %q is not filesystem safe", s.Name)}
	case s.Name == "." || s.Name == "..":
		return &ValidationError{Field: "name", Rule: "slug", Message: fmt.Sprintf("slug name %q is reserved", s.Name)}
	case s.ID < 0:
		return &ValidationError{Field: "id", Rule: "slug", Message: fmt.Sprintf("slug id %d is negative", s.ID)}
	}
	return nil
}

// String returns the display form "{name}-{id}".
func (s Slug) String() string {
	return s.Name + SlugSeparator + strconv.FormatInt(s.ID, 10)
}

// FSName returns the filesystem-safe form "{name}{id}", used for system
// principals and directory names.
func (s Slug) FSName() string {
	return s.Name + strconv.FormatInt(s.ID, 10)
}

// IsZero reports whether the slug is unset.
func (s Slug) IsZero() bool {
	return s == Slug{}
}

// ParseSlug parses the display form produced by String.
func ParseSlug(value string) (Slug, error) {
	i := strings.LastIndex(value, SlugSeparator)
	if i < 0 {
		return Slug{}, &ValidationError{Field: "slug", Rule: "slug", Message: fmt.Sprintf("slug %q has no separator", value)}
	}

	id, err := strconv.ParseInt(value[i+1:], 10, 64)
	if err != nil {
		return Slug{}, &ValidationError{Field: "slug", Rule: "slug", Message: fmt.Sprintf("slug %q has an invalid id", value)}
	}

	s := Slug{ID: id, Name: value[:i]}
	if err := s.Validate(); err != nil {
		return Slug{}, err
	}
	// Reject non-canonical ids such as "007" or "+7".
	if s.String() != value {
		return Slug{}, &ValidationError{Field: "slug", Rule: "slug", Message: fmt.Sprintf("slug %q is not canonical", value)}
	}
	return s, nil
}

// MarshalText encodes the slug as its display string.
func (s Slug) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a display string.
func (s *Slug) UnmarshalText(text []byte) error {
	parsed, err := ParseSlug(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
