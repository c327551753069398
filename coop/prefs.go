package coop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Preference keys and their defaults.
const (
	PrefSound       = "sound"
	PrefMinPriority = "minPriority"
	PrefDeleteAfter = "deleteAfter"

	DefaultSound       = "ding"
	DefaultMinPriority = 1
	DefaultDeleteAfter = 604800 // one week, in seconds
)

// Prefs reads and writes user preferences in the store's prefs table.
type Prefs struct {
	store LocalStore
}

// NewPrefs returns Prefs backed by store.
func NewPrefs(store LocalStore) *Prefs {
	return &Prefs{store: store}
}

func (p *Prefs) get(ctx context.Context, key, def string) (string, error) {
	v, err := p.store.GetPref(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get pref %s: %w", key, err)
	}
	return v, nil
}

func (p *Prefs) getInt(ctx context.Context, key string, def int) (int, error) {
	v, err := p.get(ctx, key, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// Sound returns the notification sound name.
func (p *Prefs) Sound(ctx context.Context) (string, error) {
	return p.get(ctx, PrefSound, DefaultSound)
}

// SetSound stores the notification sound name.
func (p *Prefs) SetSound(ctx context.Context, sound string) error {
	return p.store.PutPref(ctx, PrefSound, sound)
}

// MinPriority returns the lowest priority that still notifies.
func (p *Prefs) MinPriority(ctx context.Context) (int, error) {
	return p.getInt(ctx, PrefMinPriority, DefaultMinPriority)
}

// SetMinPriority stores the lowest priority that still notifies.
func (p *Prefs) SetMinPriority(ctx context.Context, priority int) error {
	return p.store.PutPref(ctx, PrefMinPriority, strconv.Itoa(priority))
}

// DeleteAfter returns the retention preference in seconds.
func (p *Prefs) DeleteAfter(ctx context.Context) (int, error) {
	return p.getInt(ctx, PrefDeleteAfter, DefaultDeleteAfter)
}

// SetDeleteAfter stores the retention preference in seconds.
func (p *Prefs) SetDeleteAfter(ctx context.Context, seconds int) error {
	return p.store.PutPref(ctx, PrefDeleteAfter, strconv.Itoa(seconds))
}
