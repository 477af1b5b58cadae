package app

import (
	"fmt"
)

// View is the top-level screen
type View int

const (
	// LoggedOut shows the login form
	LoggedOut View = iota
	// OwnProfile shows the logged in user's posts and the post composer
	OwnProfile
	// Timeline shows the home timeline
	Timeline
)

func (v View) String() string {
	switch v {
	case LoggedOut:
		return "logged_out"
	case OwnProfile:
		return "own_profile"
	case Timeline:
		return "timeline"
	}
	return fmt.Sprintf("view(%d)", int(v))
}

// ParseView parses the name returned by View.String
func ParseView(name string) (View, error) {
	switch name {
	case "logged_out":
		return LoggedOut, nil
	case "own_profile":
		return OwnProfile, nil
	case "timeline":
		return Timeline, nil
	}
	return LoggedOut, fmt.Errorf("%w: %q", ErrInvalidView, name)
}

// MarshalText renders the view by name in JSON frames
func (v View) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
