// internal/model/stats.go
package model

// Bucket is one labelled count in a stats series.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type PlatformSplit struct {
	Groups      int `json:"groups"`
	Individuals int `json:"individuals"`
	WindowHours int `json:"window_hours"`
}

type StatsSummary struct {
	Daily    []Bucket      `json:"daily"`
	Weekly   []Bucket      `json:"weekly"`
	Monthly  []Bucket      `json:"monthly"`
	Platform PlatformSplit `json:"platform"`
}
