package auth

import "time"

// Sign-in methods recorded on accounts and in metrics.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

// Account is a provider-held identity.
type Account struct {
	ID              string     `gorm:"column:id;primaryKey;size:36"`
	Email           string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash    string     `gorm:"column:password_hash;size:120"`
	Provider        string     `gorm:"column:provider;size:32;not null"`
	ProviderSubject string     `gorm:"column:provider_subject;size:190;index"`
	EmailConfirmed  bool       `gorm:"column:email_confirmed;not null;default:false"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
	LastSignInAt    *time.Time `gorm:"column:last_sign_in_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "auth_accounts"
}

// AuthSession is one sign-in; refresh rotates the token on the same row.
type AuthSession struct {
	ID               string     `gorm:"column:id;primaryKey;size:36"`
	AccountID        string     `gorm:"column:account_id;size:36;not null;index"`
	RefreshTokenHash string     `gorm:"column:refresh_token_hash;size:64;not null;uniqueIndex"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	RefreshedAt      *time.Time `gorm:"column:refreshed_at"`
	RevokedAt        *time.Time `gorm:"column:revoked_at"`
}

// TableName exposes the table backing sessions.
func (AuthSession) TableName() string {
	return "auth_sessions"
}

// User is the public view of an account.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Provider       string     `json:"provider"`
	EmailConfirmed bool       `json:"email_confirmed"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSignInAt   *time.Time `json:"last_sign_in_at,omitempty"`
}

// Session is the token bundle returned by sign-in and refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func userFromAccount(account Account) User {
	return User{
		ID:             account.ID,
		Email:          account.Email,
		Provider:       account.Provider,
		EmailConfirmed: account.EmailConfirmed,
		CreatedAt:      account.CreatedAt,
		LastSignInAt:   account.LastSignInAt,
	}
}
