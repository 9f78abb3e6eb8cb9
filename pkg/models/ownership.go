package models

// Entity is implemented by every persisted entity addressed by an integer
// primary key. The resource layer uses it to derive addresses and filters
// without reflection.
type Entity interface {
	EntityID() int64
}

// Owned is implemented by entities attributable to a single owning user.
// The policy layer uses it to evaluate ownership conditions without
// knowing concrete entity types.
type Owned interface {
	OwnerID() int64
}

// PubliclyVisible is implemented by entities with a public-visibility flag.
type PubliclyVisible interface {
	IsPublic() bool
}

func (u *User) EntityID() int64 { return u.ID }

// Variants have no storage identity of their own; they are addressed by
// their composite string key only.
func (v Variant) EntityID() int64 { return 0 }

func (s *Sample) EntityID() int64     { return s.ID }
func (d *DataSource) EntityID() int64 { return d.ID }
func (v *Variation) EntityID() int64  { return v.ID }
func (c *Coverage) EntityID() int64   { return c.ID }
func (a *Annotation) EntityID() int64 { return a.ID }

func (s *Sample) OwnerID() int64     { return s.UserID }
func (s *Sample) IsPublic() bool     { return s.Public }
func (d *DataSource) OwnerID() int64 { return d.UserID }
func (v *Variation) OwnerID() int64  { return v.UserID }
func (c *Coverage) OwnerID() int64   { return c.UserID }
func (a *Annotation) OwnerID() int64 { return a.UserID }
