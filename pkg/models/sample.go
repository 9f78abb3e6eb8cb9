package models

import "time"

// Sample groups variation and coverage imports for one (pooled) specimen.
// Active samples participate in variant frequency queries; public samples
// are readable by any authenticated user.
type Sample struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Name            string    `json:"name"`
	PoolSize        int       `json:"pool_size"`
	CoverageProfile bool      `json:"coverage_profile"`
	Active          bool      `json:"active"`
	Public          bool      `json:"public"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
