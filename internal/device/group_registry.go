package device

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"
)

// CreateGroup adds a named device group.
func (r *Registry) CreateGroup(ctx context.Context, g *Group) error {
	if err := ValidateGroup(g); err != nil {
		return err
	}

	grp := g.DeepCopy()
	if grp.Members == nil {
		grp.Members = []string{}
	}
	now := r.now().UTC()
	grp.CreatedAt, grp.UpdatedAt = now, now

	r.mu.Lock()
	if _, exists := r.groups[grp.ID]; exists {
		r.mu.Unlock()
		return ErrGroupExists
	}
	r.groups[grp.ID] = grp
	r.mu.Unlock()

	if r.groupRepo != nil {
		if err := r.groupRepo.Create(ctx, grp.DeepCopy()); err != nil {
			r.mu.Lock()
			delete(r.groups, grp.ID)
			r.mu.Unlock()
			return err
		}
	}

	r.logger.Info("device group created", "id", grp.ID, "members", len(grp.Members))
	return nil
}

// DeleteGroup removes a device group.
func (r *Registry) DeleteGroup(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.groups[id]
	r.mu.RUnlock()
	if !ok {
		return ErrGroupNotFound
	}

	if r.groupRepo != nil {
		if err := r.groupRepo.Delete(ctx, id); err != nil && !errors.Is(err, ErrGroupNotFound) {
			return err
		}
	}

	r.mu.Lock()
	delete(r.groups, id)
	r.mu.Unlock()

	r.logger.Info("device group deleted", "id", id)
	return nil
}

// SetGroupMembers replaces the member list of a group.
func (r *Registry) SetGroupMembers(ctx context.Context, id string, members []string) error {
	if err := ValidateMembers(members); err != nil {
		return err
	}

	r.mu.RLock()
	_, ok := r.groups[id]
	r.mu.RUnlock()
	if !ok {
		return ErrGroupNotFound
	}

	if r.groupRepo != nil {
		if err := r.groupRepo.SetMembers(ctx, id, members); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return ErrGroupNotFound
	}
	g.Members = slices.Clone(members)
	if g.Members == nil {
		g.Members = []string{}
	}
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// GroupMembers returns the current member ids of a group. Members are not
// required to be registered.
func (r *Registry) GroupMembers(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return slices.Clone(g.Members), nil
}

// GetGroup returns a copy of a group.
func (r *Registry) GetGroup(id string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

// ListGroups returns copies of every group ordered by id.
func (r *Registry) ListGroups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, *g.DeepCopy())
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// GroupCount returns the number of groups.
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
