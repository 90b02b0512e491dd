package models

import "time"

// ServiceStatus is the wire shape of a single unit's health report.
// ActiveSince is present only when the unit has a current-activation
// timestamp; ErrorCount only when the status is unstable.
type ServiceStatus struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	ActiveSince *time.Time `json:"activeSince,omitempty"`
	ErrorCount  *int       `json:"errorCount,omitempty"`
	Host        string     `json:"host"`
}

// AggregationNode is one node of the recursive /all response tree.
// The root node has Name == nil; recursive nodes carry the peer URL
// they were reached by. A failed peer branch keeps its Name and an
// Error message with empty Services/Monitors.
type AggregationNode struct {
	Name     *string           `json:"name"`
	Services []ServiceStatus   `json:"services"`
	Monitors []AggregationNode `json:"monitors"`
	Error    string            `json:"error,omitempty"`
}
