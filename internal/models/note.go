// Package models defines the domain types for Wunjo.
package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Note represents a positioned sticky note on the shared board.
// JSON tags are the wire names used on the websocket channel.
type Note struct {
	ID        string   `json:"id"`
	Title     string   `json:"title,omitempty"`
	Content   string   `json:"content"`
	Link      string   `json:"link,omitempty"`
	Category  string   `json:"category"`
	Cost      float64  `json:"cost"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	ZIndex    int      `json:"zIndex"`
	Minimized bool     `json:"minimized"`
	StartDate string   `json:"startDate,omitempty"`
	EndDate   string   `json:"endDate,omitempty"`
}

// Validate checks the fields a mutation must carry before it may touch
// the store.
func (n Note) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
	)
}

// Normalize applies the board defaults for every omitted or zero-valued
// field. It is the single defaulting step shared by the create and update
// paths; the store persists exactly what comes out of it.
func (n Note) Normalize() Note {
	if n.Category == "" {
		n.Category = "other"
	}
	if n.X == 0 {
		n.X = 100
	}
	if n.Y == 0 {
		n.Y = 100
	}
	if n.ZIndex == 0 {
		n.ZIndex = 1
	}
	return n
}
