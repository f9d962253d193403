// Package secrets defines the secret material of an installation and its
// dotenv encoding. Generation draws from crypto/rand; everything else is pure.
// Writing the file is the job of the shell layer (see shell/secretstore).
package secrets

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/subosito/gotenv"

	"github.com/artpar/tunnelgate/internal/core/crypto"
)

// =============================================================================
// Keys
// =============================================================================

// Dotenv keys of the secret file.
const (
	KeyJWTSecret            = "JWT_SECRET"
	KeySessionSecret        = "SESSION_SECRET"
	KeyStorageEncryptionKey = "STORAGE_ENCRYPTION_KEY"
	KeyPostgresPassword     = "POSTGRES_PASSWORD"
	KeyRedisPassword        = "REDIS_PASSWORD"
	KeyAdminPasswordHash    = "ADMIN_PASSWORD_HASH"
)

// RequiredKeys lists every key a secret file must carry, sorted.
var RequiredKeys = []string{
	KeyAdminPasswordHash,
	KeyJWTSecret,
	KeyPostgresPassword,
	KeyRedisPassword,
	KeySessionSecret,
	KeyStorageEncryptionKey,
}

const (
	// TokenBytes is the entropy of each hex token (256 bits).
	TokenBytes = 32

	// PasswordLength is the length of generated service passwords.
	PasswordLength = 32
)

// =============================================================================
// Material
// =============================================================================

// Material is the full set of secrets for one installation.
type Material struct {
	JWTSecret            string // identity validation / reset JWT signing
	SessionSecret        string // session cookie encryption
	StorageEncryptionKey string // at-rest encryption of the auth store; immutable once used
	PostgresPassword     string
	RedisPassword        string
	AdminPasswordHash    string
}

// Env returns the material keyed by dotenv name.
func (m Material) Env() map[string]string {
	return map[string]string{
		KeyJWTSecret:            m.JWTSecret,
		KeySessionSecret:        m.SessionSecret,
		KeyStorageEncryptionKey: m.StorageEncryptionKey,
		KeyPostgresPassword:     m.PostgresPassword,
		KeyRedisPassword:        m.RedisPassword,
		KeyAdminPasswordHash:    m.AdminPasswordHash,
	}
}

// Marshal renders the dotenv file: sorted keys, single-quoted values, so
// the '$' characters of the password hash are never expanded.
func (m Material) Marshal() []byte {
	env := m.Env()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("# Generated once by tunnelgate. Do not edit or regenerate.\n")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s='%s'\n", k, env[k])
	}
	return buf.Bytes()
}

// Parse decodes a secret file. A file missing any required key, or carrying
// an empty one, yields a *IntegrityError; it is never patched up.
func Parse(data []byte) (Material, error) {
	env, err := gotenv.StrictParse(bytes.NewReader(data))
	if err != nil {
		return Material{}, NewIntegrityError("", "malformed secret file", err)
	}

	var missing []string
	for _, k := range RequiredKeys {
		if strings.TrimSpace(env[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Material{}, NewIntegrityError("", "missing keys "+strings.Join(missing, ", "), ErrMissingKey)
	}

	return Material{
		JWTSecret:            env[KeyJWTSecret],
		SessionSecret:        env[KeySessionSecret],
		StorageEncryptionKey: env[KeyStorageEncryptionKey],
		PostgresPassword:     env[KeyPostgresPassword],
		RedisPassword:        env[KeyRedisPassword],
		AdminPasswordHash:    env[KeyAdminPasswordHash],
	}, nil
}

// =============================================================================
// Generation
// =============================================================================

// Generate draws fresh secrets and hashes the admin password with hasher.
// The plaintext password is not retained in the result.
func Generate(hasher crypto.PasswordHasher, adminPassword string) (Material, error) {
	var m Material
	var err error

	tokens := []*string{&m.JWTSecret, &m.SessionSecret, &m.StorageEncryptionKey}
	for _, t := range tokens {
		if *t, err = crypto.RandomHex(TokenBytes); err != nil {
			return Material{}, err
		}
	}

	passwords := []*string{&m.PostgresPassword, &m.RedisPassword}
	for _, p := range passwords {
		if *p, err = crypto.RandomPassword(PasswordLength, crypto.PasswordAlphabet); err != nil {
			return Material{}, err
		}
	}

	hash, err := hasher.Hash(adminPassword)
	if err != nil {
		return Material{}, fmt.Errorf("%w: %v", ErrHasherUnavailable, err)
	}
	m.AdminPasswordHash = hash

	return m, nil
}
