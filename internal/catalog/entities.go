package catalog

import (
	"time"

	"sceneflow/internal/assets"
)

// Project is the root entity of one pipeline run.
type Project struct {
	ID        string
	Title     string
	AudioPath string
	Assets    *assets.Registry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scene is one planned unit of the storyboard.
type Scene struct {
	ID              string
	ProjectID       string
	Index           int
	Title           string
	Prompt          string
	DurationSeconds float64
	CharacterIDs    []string
	LocationIDs     []string
	Assets          *assets.Registry
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Character is a recurring figure whose reference imagery keeps scenes
// visually consistent.
type Character struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Assets      *assets.Registry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Location is a recurring setting with its own reference imagery.
type Location struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Assets      *assets.Registry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
