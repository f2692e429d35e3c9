package companion

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("companion not found")

// Registry resolves a companion id to display metadata for userID. Companions a
// user may not chat with are reported as ErrNotFound.
type Registry interface {
	Lookup(ctx context.Context, userID, id string) (Profile, error)
}

// MemoryRegistry serves a fixed set of profiles supplied at construction.
type MemoryRegistry struct {
	items map[string]Profile
}

func NewMemoryRegistry(items []Profile) *MemoryRegistry {
	m := &MemoryRegistry{items: make(map[string]Profile, len(items))}
	for _, p := range items {
		m.items[p.ID] = p
	}
	return m
}

// Lookup ignores userID; built-in companions are public.
func (m *MemoryRegistry) Lookup(_ context.Context, _ string, id string) (Profile, error) {
	p, ok := m.items[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// List returns the profiles ordered by id.
func (m *MemoryRegistry) List() []Profile {
	out := make([]Profile, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seed returns the built-in companions.
func Seed() []Profile {
	return []Profile{
		{
			ID:            "1",
			Name:          "Luna",
			Avatar:        "https://images.unsplash.com/photo-1494790108377-be9c29b29330?q=80&w=200&h=200&auto=format&fit=crop",
			AffinityLevel: 4,
			Tone:          "empathetic",
			Personality:   []string{"friendly", "empathetic", "creative"},
		},
		{
			ID:            "2",
			Name:          "Atlas",
			Avatar:        "https://images.unsplash.com/photo-1507003211169-0a1dd7228f2d?q=80&w=200&h=200&auto=format&fit=crop",
			AffinityLevel: 3,
			Tone:          "analytical",
			Personality:   []string{"intellectual", "philosophical"},
		},
	}
}

// RepoRegistry looks up the caller's own companions in the database.
type RepoRegistry struct {
	repo *Repo
}

func NewRepoRegistry(repo *Repo) *RepoRegistry {
	return &RepoRegistry{repo: repo}
}

func (r *RepoRegistry) Lookup(ctx context.Context, userID, id string) (Profile, error) {
	c, err := r.repo.GetOwned(ctx, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return c.Profile(), nil
}

// Chain asks each registry in turn; the first hit wins.
type Chain []Registry

func (c Chain) Lookup(ctx context.Context, userID, id string) (Profile, error) {
	for _, r := range c {
		p, err := r.Lookup(ctx, userID, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Profile{}, err
		}
	}
	return Profile{}, ErrNotFound
}
