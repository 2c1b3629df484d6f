package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort  string
	HTTPSPort string
	Domain    string
	HTTPOnly  bool

	// PublicURL is the base for shareable room links.
	PublicURL string

	DatabasePath string
	JWTSecret    string

	// AdminUsers are the user IDs allowed to call administrative endpoints.
	// Configured explicitly instead of a compiled-in identity.
	AdminUsers []string

	RoomTTL                time.Duration
	RoomSweepInterval      time.Duration
	DefaultMaxParticipants int
	MaxParticipantsLimit   int

	TURNEnabled bool
	TURNPort    int
	TURNRealm   string

	VAPIDKeys *VAPIDKeys

	LogLevel string
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// fileConfig is the subset persisted in config.json. Secrets stay in the
// keys directory, never in the config file.
type fileConfig struct {
	HTTPPort               string   `json:"http_port,omitempty"`
	HTTPSPort              string   `json:"https_port,omitempty"`
	Domain                 string   `json:"domain,omitempty"`
	PublicURL              string   `json:"public_url,omitempty"`
	DatabasePath           string   `json:"database_path,omitempty"`
	AdminUsers             []string `json:"admin_users,omitempty"`
	RoomTTLMinutes         int      `json:"room_ttl_minutes,omitempty"`
	RoomSweepMinutes       int      `json:"room_sweep_minutes,omitempty"`
	DefaultMaxParticipants int      `json:"default_max_participants,omitempty"`
	MaxParticipantsLimit   int      `json:"max_participants_limit,omitempty"`
	TURNPort               int      `json:"turn_port,omitempty"`
	TURNRealm              string   `json:"turn_realm,omitempty"`
	LogLevel               string   `json:"log_level,omitempty"`
}

// Load builds the configuration from environment variables with a
// config.json overlay next to the binary. Flags are applied by main on top.
func Load(httpOnly bool) *Config {
	cfg := &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		HTTPSPort:              getEnv("HTTPS_PORT", "8443"),
		Domain:                 getEnv("DOMAIN", "localhost"),
		PublicURL:              getEnv("PUBLIC_URL", ""),
		DatabasePath:           getEnv("DATABASE_PATH", "peerbridge.db"),
		AdminUsers:             splitList(getEnv("ADMIN_USERS", "")),
		RoomTTL:                time.Duration(getEnvInt("ROOM_TTL_MINUTES", 30)) * time.Minute,
		RoomSweepInterval:      time.Duration(getEnvInt("ROOM_SWEEP_MINUTES", 5)) * time.Minute,
		DefaultMaxParticipants: getEnvInt("DEFAULT_MAX_PARTICIPANTS", 2),
		MaxParticipantsLimit:   getEnvInt("MAX_PARTICIPANTS_LIMIT", 50),
		TURNEnabled:            getEnv("TURN_ENABLED", "true") == "true",
		TURNPort:               getEnvInt("TURN_PORT", 3478),
		TURNRealm:              getEnv("TURN_REALM", "peerbridge"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		HTTPOnly:               httpOnly,
	}

	applyFileOverlay(cfg)

	if cfg.PublicURL == "" {
		if cfg.HTTPOnly {
			cfg.PublicURL = "http://" + cfg.Domain + ":" + cfg.HTTPPort
		} else {
			cfg.PublicURL = "https://" + cfg.Domain
		}
	}

	cfg.JWTSecret = loadOrGenerateJWTSecret()
	cfg.VAPIDKeys = loadOrGenerateVAPIDKeys()

	return cfg
}

func applyFileOverlay(cfg *Config) {
	data, err := os.ReadFile(configFilePath())
	if err != nil {
		return
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		slog.Warn("ignoring malformed config.json", "error", err)
		return
	}

	if fc.HTTPPort != "" {
		cfg.HTTPPort = fc.HTTPPort
	}
	if fc.HTTPSPort != "" {
		cfg.HTTPSPort = fc.HTTPSPort
	}
	if fc.Domain != "" {
		cfg.Domain = fc.Domain
	}
	if fc.PublicURL != "" {
		cfg.PublicURL = fc.PublicURL
	}
	if fc.DatabasePath != "" {
		cfg.DatabasePath = fc.DatabasePath
	}
	if len(fc.AdminUsers) > 0 {
		cfg.AdminUsers = fc.AdminUsers
	}
	if fc.RoomTTLMinutes > 0 {
		cfg.RoomTTL = time.Duration(fc.RoomTTLMinutes) * time.Minute
	}
	if fc.RoomSweepMinutes > 0 {
		cfg.RoomSweepInterval = time.Duration(fc.RoomSweepMinutes) * time.Minute
	}
	if fc.DefaultMaxParticipants > 0 {
		cfg.DefaultMaxParticipants = fc.DefaultMaxParticipants
	}
	if fc.MaxParticipantsLimit > 0 {
		cfg.MaxParticipantsLimit = fc.MaxParticipantsLimit
	}
	if fc.TURNPort > 0 {
		cfg.TURNPort = fc.TURNPort
	}
	if fc.TURNRealm != "" {
		cfg.TURNRealm = fc.TURNRealm
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
}

// IsAdmin reports whether the user is in the configured admin list.
func (c *Config) IsAdmin(userID string) bool {
	for _, admin := range c.AdminUsers {
		if admin == userID {
			return true
		}
	}
	return false
}

func configFilePath() string {
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

func keysDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "keys"
	}
	return filepath.Join(filepath.Dir(execPath), "keys")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret() string {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	keysDir := keysDirectory()
	secretFile := filepath.Join(keysDir, "jwt-secret.key")

	if secretData, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(secretData)); secret != "" {
			return secret
		}
	}

	secret := generateRandomSecret()
	if err := os.MkdirAll(keysDir, 0700); err == nil {
		if err := os.WriteFile(secretFile, []byte(secret), 0600); err != nil {
			slog.Warn("could not persist JWT secret; it will regenerate on restart", "error", err)
		}
	}
	return secret
}

func loadOrGenerateVAPIDKeys() *VAPIDKeys {
	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")
	subject := getEnv("VAPID_SUBJECT", "mailto:admin@peerbridge.dev")

	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
	}

	keysDir := keysDirectory()
	publicKeyFile := filepath.Join(keysDir, "vapid-public.key")
	privateKeyFile := filepath.Join(keysDir, "vapid-private.key")

	if pub, err := os.ReadFile(publicKeyFile); err == nil {
		if priv, err := os.ReadFile(privateKeyFile); err == nil {
			return &VAPIDKeys{
				PublicKey:  strings.TrimSpace(string(pub)),
				PrivateKey: strings.TrimSpace(string(priv)),
				Subject:    subject,
			}
		}
	}

	keys, err := generateVAPIDKeys(subject)
	if err != nil {
		panic("failed to generate VAPID keys: " + err.Error())
	}

	if err := os.MkdirAll(keysDir, 0700); err == nil {
		os.WriteFile(publicKeyFile, []byte(keys.PublicKey), 0600)
		os.WriteFile(privateKeyFile, []byte(keys.PrivateKey), 0600)
	}
	return keys
}

// generateVAPIDKeys produces keys in the raw format the webpush library
// expects: a 65-byte uncompressed P-256 public point and the 32-byte raw
// private scalar, both base64url without padding.
func generateVAPIDKeys(subject string) (*VAPIDKeys, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-256 key: %w", err)
	}

	publicKeyBytes := make([]byte, 65)
	publicKeyBytes[0] = 0x04
	priv.PublicKey.X.FillBytes(publicKeyBytes[1:33])
	priv.PublicKey.Y.FillBytes(publicKeyBytes[33:65])

	privateKeyBytes := make([]byte, 32)
	priv.D.FillBytes(privateKeyBytes)

	return &VAPIDKeys{
		PublicKey:  base64.RawURLEncoding.EncodeToString(publicKeyBytes),
		PrivateKey: base64.RawURLEncoding.EncodeToString(privateKeyBytes),
		Subject:    subject,
	}, nil
}
