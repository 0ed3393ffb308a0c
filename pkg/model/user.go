package model

import "time"

// User is the internal profile linked to one external identity.
type User struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	ExternalID string     `json:"external_id" gorm:"not null;uniqueIndex"`
	Name       string     `json:"name" gorm:"not null"`
	Email      string     `json:"email"`
	ImageURL   string     `json:"image_url,omitempty"`
	IsOnline   bool       `json:"is_online" gorm:"not null;default:false"`
	LastSeen   time.Time  `json:"last_seen" gorm:"not null"`
	Typing     *time.Time `json:"typing,omitempty"`
}

// UserPatch names the User fields a write touches. Nil fields are left alone,
// so independent writers (profile sync, presence, typing) never clobber each other.
type UserPatch struct {
	Name     *string
	Email    *string
	ImageURL *string
	IsOnline *bool
	LastSeen *time.Time
	Typing   *time.Time
}

// Apply copies the set fields of p onto u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.ImageURL != nil {
		u.ImageURL = *p.ImageURL
	}
	if p.IsOnline != nil {
		u.IsOnline = *p.IsOnline
	}
	if p.LastSeen != nil {
		u.LastSeen = *p.LastSeen
	}
	if p.Typing != nil {
		t := *p.Typing
		u.Typing = &t
	}
}

// Empty reports whether the patch touches no field.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.ImageURL == nil &&
		p.IsOnline == nil && p.LastSeen == nil && p.Typing == nil
}

// Presence is the last-activity record of a user. Online state is derived from
// LastSeen at read time and never stored here.
type Presence struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	UserID   string    `json:"user_id" gorm:"not null;uniqueIndex"`
	LastSeen time.Time `json:"last_seen" gorm:"not null"`
}
