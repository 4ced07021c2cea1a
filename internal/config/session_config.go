package config

import (
	"path/filepath"
	"time"
)

type SessionConfig interface {
	GetPollInterval() time.Duration
	GetRefreshSkew() time.Duration
	GetSessionFile() string
	GetSessionKey() string
	GetRedisAddr() string
	GetRedisProfile() string
	GetRememberMeDefault() bool
	GetProfileIdleTimeout() time.Duration
}

type Session struct {
	file *File
}

var _ SessionConfig = Session{}

// GetPollInterval is how often the expiry watcher checks the stored session
func (s Session) GetPollInterval() time.Duration {
	return GetEnvDuration("SESSION_POLL_INTERVAL", pickDuration(s.file.Session.PollInterval, 30*time.Second))
}

// GetRefreshSkew refreshes tokens this long before they expire
func (s Session) GetRefreshSkew() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_SKEW", pickDuration(s.file.Session.RefreshSkew, 30*time.Second))
}

// GetSessionFile is the durable tier's file; used when no redis address is configured
func (s Session) GetSessionFile() string {
	dir := GetEnv(folderEnvVar, pick(s.file.Storage.Dir, "./data"))
	return GetEnv("SESSION_FILE", filepath.Join(dir, "session.json"))
}

// GetSessionKey is a 32 byte hex key that encrypts the durable file at rest. Empty disables encryption.
func (s Session) GetSessionKey() string {
	return GetEnv("SESSION_KEY", s.file.Storage.Key)
}

func (s Session) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", s.file.Storage.RedisAddr)
}

func (s Session) GetRedisProfile() string {
	return GetEnv("REDIS_PROFILE", pick(s.file.Storage.RedisProfile, "default"))
}

func (s Session) GetRememberMeDefault() bool {
	return GetEnvBool("REMEMBER_ME", true)
}

// GetProfileIdleTimeout is how long the gateway keeps an unused browser profile open.
// Profiles holding a live tab-only session stay open until it expires.
func (s Session) GetProfileIdleTimeout() time.Duration {
	return GetEnvDuration("PROFILE_IDLE_TIMEOUT", pickDuration(s.file.Session.ProfileIdleTimeout, 30*time.Minute))
}
