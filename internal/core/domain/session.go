package domain

// SessionUser is the anonymous identity whose id keys document storage.
type SessionUser struct {
	ID string `json:"uid"`
}
