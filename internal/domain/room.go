package domain

import "regexp"

var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// ValidateRoomID checks that a room id is usable as a log key.
func ValidateRoomID(roomID string) error {
	if !roomIDPattern.MatchString(roomID) {
		return ErrInvalidRoom
	}
	return nil
}
