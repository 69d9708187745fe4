package jwt

// Config holds JWT configuration
type Config struct {
	SecretKey string
}

// Claims represents the JWT claims structure
type Claims struct {
	Sub      string `json:"sub"`      // User ID
	Username string `json:"username"` // Display name
	Exp      int64  `json:"exp"`      // Expiration time
}
