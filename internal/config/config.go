package config

import "time"

type Config interface {
	EnvConfig
	ClientConfig
	StoreConfig
	OIDCConfig
	DevBackendConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

// ClientConfig locates the backend and bounds the exchanges with it.
type ClientConfig interface {
	GetBaseURL() string
	GetSignInPath() string
	GetRefreshPath() string
	GetRefreshTimeout() time.Duration
	GetHTTPTimeout() time.Duration
}

type StoreConfig interface {
	GetStoreKind() StoreKind
	GetStorePath() string
	GetStoreNamespace() string
}

// OIDCConfig enables ID token verification on sign-in when issuer, client ID
// and JWKS URL are all set.
type OIDCConfig interface {
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCJWKSURL() string
	OIDCEnabled() bool
}

// DevBackendConfig drives the local development backend.
type DevBackendConfig interface {
	GetListenAddr() string
	GetAccessTokenExpiry() time.Duration
	GetIDTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetRotateRefreshTokens() bool
}

type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
	StoreSQLite StoreKind = "sqlite"
)

func (k StoreKind) Valid() bool {
	switch k {
	case StoreMemory, StoreFile, StoreSQLite:
		return true
	}
	return false
}
