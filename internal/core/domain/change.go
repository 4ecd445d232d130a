package domain

// ChangeEvent announces that a user's document was written. Origin is the
// writing instance's id so that an instance can ignore its own events.
type ChangeEvent struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin"`
}
