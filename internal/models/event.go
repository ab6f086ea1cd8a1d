package models

import (
	"time"
)

type Category string

const (
	CategoryMusic     Category = "music"
	CategorySports    Category = "sports"
	CategoryArts      Category = "arts"
	CategoryFood      Category = "food"
	CategoryBusiness  Category = "business"
	CategoryCommunity Category = "community"
	CategoryEducation Category = "education"
	CategoryOther     Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMusic, CategorySports, CategoryArts, CategoryFood,
		CategoryBusiness, CategoryCommunity, CategoryEducation, CategoryOther:
		return true
	}
	return false
}

// Event is the record being synchronized. DeletedAt marks a soft delete;
// Version is bumped on every successful update.
type Event struct {
	ID          string     `json:"id" validate:"required,max=64"`
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Category    Category   `json:"category" validate:"required,oneof=music sports arts food business community education other"`
	Venue       string     `json:"venue" validate:"max=200"`
	Address     string     `json:"address" validate:"max=500"`
	Latitude    float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64    `json:"longitude" validate:"gte=-180,lte=180"`
	StartTime   time.Time  `json:"start_time" validate:"required"`
	CreatedBy   string     `json:"created_by" validate:"max=200"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Version     int64      `json:"version"`
}

func (e *Event) IsDeleted() bool {
	return e.DeletedAt != nil
}

// CopyMutable copies the user-editable fields of src onto e. Identity,
// audit timestamps and version are left alone.
func (e *Event) CopyMutable(src *Event) {
	e.Name = src.Name
	e.Description = src.Description
	e.Category = src.Category
	e.Venue = src.Venue
	e.Address = src.Address
	e.Latitude = src.Latitude
	e.Longitude = src.Longitude
	e.StartTime = src.StartTime
}

type EventFilter struct {
	Limit     int
	Offset    int
	Category  Category
	Venue     string
	Latitude  *float64
	Longitude *float64
	RadiusKm  float64
}
