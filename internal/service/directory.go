// Package service provides business logic for the messaging API.
package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rentease/messaging/internal/model"
)

// User is a platform user known to the messaging API.
type User struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Email string     `yaml:"email"`
	Role  model.Role `yaml:"role"`
}

// Lease links a landlord to a tenant occupying a unit.
type Lease struct {
	LandlordID   string `yaml:"landlord_id"`
	TenantID     string `yaml:"tenant_id"`
	UnitID       string `yaml:"unit_id"`
	PropertyName string `yaml:"property_name"`
	Active       bool   `yaml:"active"`
}

// Seed is the directory fixture loaded at startup.
type Seed struct {
	Users  []User  `yaml:"users"`
	Leases []Lease `yaml:"leases"`
}

// LoadSeed reads a YAML directory fixture.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, u := range seed.Users {
		if model.CanonicalID(u.ID) == "" {
			return nil, fmt.Errorf("seed user %d has no id", i)
		}
	}

	return &seed, nil
}

// Directory holds users and leases. Property and lease management live in
// other services; this is the read model messaging needs.
type Directory struct {
	users  map[string]User
	leases []Lease
	mu     sync.RWMutex
}

// NewDirectory creates a directory from a seed. A nil seed yields an empty
// directory.
func NewDirectory(seed *Seed) *Directory {
	d := &Directory{users: make(map[string]User)}
	if seed == nil {
		return d
	}
	for _, u := range seed.Users {
		u.ID = model.CanonicalID(u.ID)
		d.users[u.ID] = u
	}
	for _, l := range seed.Leases {
		l.LandlordID = model.CanonicalID(l.LandlordID)
		l.TenantID = model.CanonicalID(l.TenantID)
		l.UnitID = model.CanonicalID(l.UnitID)
		d.leases = append(d.leases, l)
	}
	return d
}

// AddUser registers or replaces a user.
func (d *Directory) AddUser(u User) {
	u.ID = model.CanonicalID(u.ID)
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// AddLease records a lease.
func (d *Directory) AddLease(l Lease) {
	l.LandlordID = model.CanonicalID(l.LandlordID)
	l.TenantID = model.CanonicalID(l.TenantID)
	l.UnitID = model.CanonicalID(l.UnitID)
	d.mu.Lock()
	d.leases = append(d.leases, l)
	d.mu.Unlock()
}

// User looks up a user by id.
func (d *Directory) User(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[model.CanonicalID(id)]
	return u, ok
}

// Participant returns the counterpart descriptor for a user id. Unknown users
// are described by id alone.
func (d *Directory) Participant(id string) model.Participant {
	if u, ok := d.User(id); ok {
		return model.Participant{ID: u.ID, Name: u.Name, Role: u.Role}
	}
	return model.Participant{ID: model.CanonicalID(id)}
}

// HasActiveLease reports whether an active lease links the two users in either
// direction.
func (d *Directory) HasActiveLease(a, b string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, l := range d.leases {
		if !l.Active {
			continue
		}
		if (model.SameID(l.LandlordID, a) && model.SameID(l.TenantID, b)) ||
			(model.SameID(l.LandlordID, b) && model.SameID(l.TenantID, a)) {
			return true
		}
	}
	return false
}

// ActiveTenants returns the tenants holding an active lease with the landlord,
// optionally restricted to one unit. Unit ids are compared canonically; a
// filter matching nothing yields an empty roster.
func (d *Directory) ActiveTenants(ctx context.Context, landlordID, unitID string) []model.TenantSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	unitID = model.CanonicalID(unitID)
	seen := make(map[string]struct{})
	var tenants []model.TenantSummary
	for _, l := range d.leases {
		if !l.Active || !model.SameID(l.LandlordID, landlordID) {
			continue
		}
		if unitID != "" && l.UnitID != unitID {
			continue
		}
		if _, dup := seen[l.TenantID]; dup {
			continue
		}
		seen[l.TenantID] = struct{}{}

		summary := model.TenantSummary{
			ID:           l.TenantID,
			UnitID:       l.UnitID,
			PropertyName: l.PropertyName,
		}
		if u, ok := d.users[l.TenantID]; ok {
			summary.Name = u.Name
			summary.Email = u.Email
		}
		tenants = append(tenants, summary)
	}

	sort.SliceStable(tenants, func(i, j int) bool { return tenants[i].Name < tenants[j].Name })
	return tenants
}
