package tokenstore

// Namespaces of durable keys
const (
	AdminNamespace = "admin_"
	SiteNamespace  = "nostalgia_user_"
)

const (
	keyAccessToken      = "access_token"
	keyAccessExpiresAt  = "access_token_expires_at"
	keyRefreshToken     = "refresh_token"
	keyRefreshExpiresAt = "refresh_token_expires_at"
	keyPrincipal        = "principal"
)

type keys struct {
	accessToken      string
	accessExpiresAt  string
	refreshToken     string
	refreshExpiresAt string
	principal        string
}

func newKeys(namespace string) keys {
	return keys{
		accessToken:      namespace + keyAccessToken,
		accessExpiresAt:  namespace + keyAccessExpiresAt,
		refreshToken:     namespace + keyRefreshToken,
		refreshExpiresAt: namespace + keyRefreshExpiresAt,
		principal:        namespace + keyPrincipal,
	}
}

func (k keys) all() []string {
	return []string{k.accessToken, k.accessExpiresAt, k.refreshToken, k.refreshExpiresAt, k.principal}
}
