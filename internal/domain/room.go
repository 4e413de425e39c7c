package domain

// RoomID names a live audio session. Rooms exist implicitly: created on
// first join, gone when the local user leaves or the server ends the session.
type RoomID string
