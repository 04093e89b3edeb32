package domain

// Identity is the signed-in user as returned by the identity provider.
type Identity struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Admin       bool   `json:"admin"`
}
