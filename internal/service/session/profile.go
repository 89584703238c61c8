package session

import (
	"fmt"

	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

// Profile describes the API flavour the session talks to
// Empty path means the API has no such endpoint
type Profile struct {
	Name      string
	Namespace string

	LoginPath    string
	LogoutPath   string
	RegisterPath string
	RenewPath    string
	InfoPath     string
}

var (
	// Admin console
	AdminProfile = Profile{
		Name:       "admin",
		Namespace:  tokenstore.AdminNamespace,
		LoginPath:  "/admin/login",
		LogoutPath: "/admin/logout",
		RenewPath:  "/admin/renew_access",
		InfoPath:   "/admin/info",
	}

	// Public site
	SiteProfile = Profile{
		Name:         "site",
		Namespace:    tokenstore.SiteNamespace,
		LoginPath:    "/users/login",
		RegisterPath: "/users",
		RenewPath:    "/tokens/renew_access",
		InfoPath:     "/users/info",
	}
)

func ProfileByName(name string) (Profile, error) {
	switch name {
	case AdminProfile.Name:
		return AdminProfile, nil
	case SiteProfile.Name:
		return SiteProfile, nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}
