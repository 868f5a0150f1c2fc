package device

import (
	"slices"
	"time"
)

// Group is a named set of device ids used for broadcast targeting.
// Members may name devices that are not registered yet; they are resolved
// against the registry at dispatch time.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Group.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	cpy := *g
	cpy.Members = slices.Clone(g.Members)
	return &cpy
}
