package domain

// Role of an authenticated caller.
type Role string

const (
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Principal is an already-authenticated caller. The service trusts it as is;
// tokens are verified at the edge.
type Principal struct {
	Subject string `json:"sub"`
	Role    Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanActFor reports whether p may operate on the given seller account.
func (p Principal) CanActFor(accountID string) bool {
	return p.IsAdmin() || (p.Role == RoleSeller && p.Subject != "" && p.Subject == accountID)
}

// SystemPrincipal is used by internal flows such as webhook settlement.
var SystemPrincipal = Principal{Subject: "system", Role: RoleAdmin}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// TokenResponse carries an issued access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Subject     string `json:"subject"`
	Role        Role   `json:"role"`
}
