// Package domain contains entities without logic, just meta-data.
package domain

type RoomID string

// RoomInfo is a read-only view of a room for the HTTP API.
type RoomInfo struct {
	ID          RoomID `json:"id"`
	MemberCount int    `json:"member_count"`
	Streaming   bool   `json:"streaming"`
}
