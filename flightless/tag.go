package flightless

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
)

// Tag is a named, owner-attributed reply. At least one of Reply and
// ImageURL is set.
type Tag struct {
	Name      string  `gorm:"primaryKey" json:"name" yaml:"name"`
	OwnerID   string  `gorm:"index" json:"owner_id" yaml:"owner_id"`
	Reply     *string `json:"reply,omitempty" yaml:"reply,omitempty"`
	ImageURL  *string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	CreatedAt int64   `gorm:"autoCreateTime:milli" json:"created_at" yaml:"created_at"`
}

func (t Tag) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", t.Name),
		slog.String("owner_id", t.OwnerID),
	}
	if t.ImageURL != nil {
		attrs = append(attrs, slog.String("image_url", *t.ImageURL))
	}
	if t.Reply != nil {
		attrs = append(attrs, slog.Int("reply_length", len(*t.Reply)))
	}
	return slog.GroupValue(attrs...)
}

func (t *Tag) clone() *Tag {
	c := *t
	if t.Reply != nil {
		c.Reply = stringPointer(*t.Reply)
	}
	if t.ImageURL != nil {
		c.ImageURL = stringPointer(*t.ImageURL)
	}
	return &c
}

func (t *Tag) hasBody() bool {
	return stringPointerValue(t.Reply) != "" || stringPointerValue(t.ImageURL) != ""
}

// Alias redirects Name to Target, which is a tag or built-in
// command name. Aliases resolve in exactly one hop.
type Alias struct {
	Name   string `gorm:"primaryKey" json:"name" yaml:"name"`
	Target string `gorm:"index;not null" json:"target" yaml:"target"`
}

// Snapshot is the complete durable state: every tag and every alias.
// Shelves always read and write whole snapshots.
type Snapshot struct {
	Tags    map[string]*Tag   `json:"tags" yaml:"tags"`
	Aliases map[string]string `json:"aliases" yaml:"aliases"`
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Tags:    map[string]*Tag{},
		Aliases: map[string]string{},
	}
}

// normalize replaces nil maps with empty ones and fills in tag names
// from their keys
func (s *Snapshot) normalize() {
	if s.Tags == nil {
		s.Tags = map[string]*Tag{}
	}
	if s.Aliases == nil {
		s.Aliases = map[string]string{}
	}
	for name, t := range s.Tags {
		if t == nil {
			delete(s.Tags, name)
			continue
		}
		t.Name = name
	}
}

// clone copies both maps. Tags are shared; callers replace a tag
// rather than mutating it in place.
func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Tags:    maps.Clone(s.Tags),
		Aliases: maps.Clone(s.Aliases),
	}
}

// TagNames returns the tag names in sorted order
func (s Snapshot) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for name := range s.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AliasList returns the aliases sorted by name
func (s Snapshot) AliasList() []Alias {
	aliases := make([]Alias, 0, len(s.Aliases))
	for name, target := range s.Aliases {
		aliases = append(aliases, Alias{Name: name, Target: target})
	}
	sort.Slice(
		aliases, func(i, j int) bool {
			return aliases[i].Name < aliases[j].Name
		},
	)
	return aliases
}

// Validate checks that every tag has a valid name and a body, that no
// tag or alias takes a built-in's name, and that every alias points
// directly at an existing tag or built-in
func (s Snapshot) Validate() error {
	var errs []error
	for name, t := range s.Tags {
		if name != normalizeName(name) || name == "" || len([]rune(name)) > maxTagNameLength {
			errs = append(errs, fmt.Errorf("tag %q: %w", name, ErrInvalidName))
		}
		if _, ok := LookupCommand(name); ok {
			errs = append(errs, fmt.Errorf("tag %q: %w", name, ErrTagExists))
		}
		if t == nil || !t.hasBody() {
			errs = append(errs, fmt.Errorf("tag %q: %w", name, ErrEmptyBody))
		}
	}
	for name, target := range s.Aliases {
		if name != normalizeName(name) || name == "" || len([]rune(name)) > maxTagNameLength {
			errs = append(errs, fmt.Errorf("alias %q: %w", name, ErrInvalidName))
		}
		_, shadowsTag := s.Tags[name]
		_, shadowsCommand := LookupCommand(name)
		if shadowsTag || shadowsCommand {
			errs = append(errs, fmt.Errorf("alias %q: %w", name, ErrAliasConflict))
		}
		_, isTag := s.Tags[target]
		_, isCommand := LookupCommand(target)
		if !isTag && !isCommand {
			errs = append(
				errs,
				fmt.Errorf("alias %q -> %q: %w", name, target, ErrAliasTargetMissing),
			)
		}
	}
	return errors.Join(errs...)
}
