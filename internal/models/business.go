package models

import "time"

type ArtistRole string

const (
	RoleArtist  ArtistRole = "artist"
	RoleManager ArtistRole = "manager"
)

func (r ArtistRole) Valid() bool {
	return r == RoleArtist || r == RoleManager
}

type ArtistPermissions struct {
	CanManageQueues  bool `gorm:"not null" json:"canManageQueues"`
	CanManageArtists bool `gorm:"not null" json:"canManageArtists"`
	CanViewAnalytics bool `gorm:"not null" json:"canViewAnalytics"`
}

// DefaultPermissions returns the permissions granted with a role. Managers
// may manage artists and view analytics.
func DefaultPermissions(role ArtistRole) ArtistPermissions {
	perms := ArtistPermissions{CanManageQueues: true}
	if role == RoleManager {
		perms.CanManageArtists = true
		perms.CanViewAnalytics = true
	}
	return perms
}

type Business struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	OwnerID     uint             `gorm:"not null;index" json:"ownerId"`
	Owner       *User            `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Name        string           `gorm:"size:200;not null" json:"name"`
	Description string           `gorm:"type:text" json:"description"`
	Plan        PlanTier         `gorm:"size:30;not null" json:"plan"`
	MaxArtists  int              `gorm:"not null" json:"maxArtists"`
	IsActive    bool             `gorm:"not null" json:"isActive"`
	Artists     []BusinessArtist `gorm:"foreignKey:BusinessID" json:"artists,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// BusinessArtist is a roster entry. Removal flips IsActive so history stays attributable.
type BusinessArtist struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	BusinessID  uint              `gorm:"not null;uniqueIndex:idx_business_artist,priority:1" json:"businessId"`
	UserID      uint              `gorm:"not null;uniqueIndex:idx_business_artist,priority:2" json:"userId"`
	User        *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role        ArtistRole        `gorm:"size:20;not null" json:"role"`
	IsActive    bool              `gorm:"not null" json:"isActive"`
	Permissions ArtistPermissions `gorm:"embedded;embeddedPrefix:perm_" json:"permissions"`
	JoinedAt    time.Time         `gorm:"not null" json:"joinedAt"`
	LeftAt      *time.Time        `json:"leftAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

type JoinRequest struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	BusinessID  uint              `gorm:"not null;index" json:"businessId"`
	UserID      uint              `gorm:"not null;index" json:"userId"`
	User        *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role        ArtistRole        `gorm:"size:20;not null" json:"role"`
	Message     string            `gorm:"size:500" json:"message,omitempty"`
	Status      JoinRequestStatus `gorm:"size:20;not null;index" json:"status"`
	RespondedAt *time.Time        `json:"respondedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
