package session

// Session is one live refresh token's server-side record. ID is the
// token's jti; FamilyID links every session descended from one login.
//
// Session instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Session struct {
	ID        string
	UserID    string
	ActorType string
	FamilyID  string

	Role  string
	Extra map[string]string

	RefreshHash [32]byte
	IPHash      [32]byte
	DeviceInfo  string

	CreatedAt int64
	ExpiresAt int64
}
