package models

// UserProfile represents an account profile, keyed by handle
type UserProfile struct {
	Handle        string `json:"handle"`
	DisplayName   string `json:"display_name"`
	Bio           string `json:"bio,omitempty"`
	AvatarURI     string `json:"avatar_uri,omitempty"`
	FollowerCount int64  `json:"follower_count"`
	FollowCount   int64  `json:"follow_count"`
	PostCount     int64  `json:"post_count"`
}

// Name returns the display name, or the handle when no display name is set
func (u UserProfile) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Handle
}
