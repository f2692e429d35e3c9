package companion

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrInvalid = errors.New("invalid companion")

const (
	MaxNameLen        = 40
	MaxDescriptionLen = 200
	MaxTraits         = 3
	MaxLanguages      = 3
	MaxPrompts        = 10
	MaxPromptLen      = 100
	MaxAffinityLevel  = 5
)

var (
	Traits       = []string{"friendly", "formal", "humorous", "empathetic", "intellectual", "creative", "motivational", "philosophical"}
	Tones        = []string{"professional", "casual", "empathetic", "enthusiastic", "analytical"}
	LanguageIDs  = []string{"en", "es", "fr", "de", "it", "ja", "zh", "ko"}
	Proficiency  = []string{"native", "fluent", "conversational"}
	AvatarStyles = []string{"realistic", "artistic", "anime"}
)

// Draft is the creation wizard's input.
type Draft struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Avatar      string     `json:"avatar"`
	AvatarStyle string     `json:"avatar_style"`
	Personality []string   `json:"personality"`
	Languages   []Language `json:"languages"`
	Tone        string     `json:"tone"`
	Prompts     []string   `json:"prompts"`
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Normalize trims and lower-cases the draft in place and then checks the wizard rules.
func (d *Draft) Normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.Avatar = strings.TrimSpace(d.Avatar)
	d.AvatarStyle = strings.ToLower(strings.TrimSpace(d.AvatarStyle))
	d.Tone = strings.ToLower(strings.TrimSpace(d.Tone))

	if d.Name == "" {
		return invalid("name", "required")
	}
	if utf8.RuneCountInString(d.Name) > MaxNameLen {
		return invalid("name", "at most %d characters", MaxNameLen)
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLen {
		return invalid("description", "at most %d characters", MaxDescriptionLen)
	}
	if d.AvatarStyle == "" {
		d.AvatarStyle = AvatarStyles[0]
	}
	if !contains(AvatarStyles, d.AvatarStyle) {
		return invalid("avatar_style", "unknown style %q", d.AvatarStyle)
	}

	traits, err := normalizeSet("personality", d.Personality, Traits, MaxTraits)
	if err != nil {
		return err
	}
	d.Personality = traits

	if len(d.Languages) == 0 {
		return invalid("languages", "select at least one")
	}
	if len(d.Languages) > MaxLanguages {
		return invalid("languages", "select up to %d", MaxLanguages)
	}
	seen := make(map[string]struct{}, len(d.Languages))
	for i := range d.Languages {
		l := &d.Languages[i]
		l.ID = strings.ToLower(strings.TrimSpace(l.ID))
		l.Proficiency = strings.ToLower(strings.TrimSpace(l.Proficiency))
		if !contains(LanguageIDs, l.ID) {
			return invalid("languages", "unknown language %q", l.ID)
		}
		if _, dup := seen[l.ID]; dup {
			return invalid("languages", "duplicate language %q", l.ID)
		}
		seen[l.ID] = struct{}{}
		if l.Proficiency == "" {
			l.Proficiency = "conversational"
		}
		if !contains(Proficiency, l.Proficiency) {
			return invalid("languages", "unknown proficiency %q", l.Proficiency)
		}
	}

	if d.Tone == "" {
		d.Tone = Tones[0]
	}
	if !contains(Tones, d.Tone) {
		return invalid("tone", "unknown tone %q", d.Tone)
	}

	if len(d.Prompts) > MaxPrompts {
		return invalid("prompts", "at most %d prompts", MaxPrompts)
	}
	prompts := make([]string, 0, len(d.Prompts))
	for _, p := range d.Prompts {
		p = strings.TrimSpace(p)
		if p == "" {
			return invalid("prompts", "prompt must not be empty")
		}
		if utf8.RuneCountInString(p) > MaxPromptLen {
			return invalid("prompts", "prompt longer than %d characters", MaxPromptLen)
		}
		prompts = append(prompts, p)
	}
	d.Prompts = prompts
	return nil
}

func normalizeSet(field string, in, allowed []string, max int) ([]string, error) {
	if len(in) == 0 {
		return nil, invalid(field, "select at least one")
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if !contains(allowed, v) {
			return nil, invalid(field, "unknown value %q", v)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > max {
		return nil, invalid(field, "select up to %d", max)
	}
	return out, nil
}

// Apply copies a normalized draft onto c.
func (d Draft) Apply(c *Companion) {
	c.Name = d.Name
	c.Description = d.Description
	c.Avatar = d.Avatar
	c.AvatarStyle = d.AvatarStyle
	c.Personality = append([]string(nil), d.Personality...)
	c.Languages = append([]Language(nil), d.Languages...)
	c.Tone = d.Tone
	c.Prompts = append([]string(nil), d.Prompts...)
}
