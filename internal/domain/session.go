package domain

// UserProfile holds the profile fields returned by the auth backend.
type UserProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
}

// Session is the authoritative client-side record of the current
// authentication state. It is mutated only by the session controller.
// Initialized is set exactly once after the bootstrap probe and never
// reverts; LoggedIn=false implies User=nil.
type Session struct {
	LoggedIn          bool
	Initialized       bool
	User              *UserProfile
	NeedsVerification bool
	Email             string
}

// ProfilePatch carries a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// RegisterInput holds the fields required to create an account.
type RegisterInput struct {
	Email          string
	Password       string
	FirstName      string
	LastName       string
	ChallengeToken string
}
