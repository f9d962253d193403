package secrets

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubHasher struct {
	hash string
	err  error
	got  string
}

func (h *stubHasher) Hash(password string) (string, error) {
	h.got = password
	return h.hash, h.err
}

const testHash = "$argon2id$v=19$m=65536,t=3,p=4$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNo"

func sampleMaterial() Material {
	return Material{
		JWTSecret:            strings.Repeat("a", 64),
		SessionSecret:        strings.Repeat("b", 64),
		StorageEncryptionKey: strings.Repeat("c", 64),
		PostgresPassword:     "pg!pass%word-123456789012",
		RedisPassword:        "redis@pass~word_12345678",
		AdminPasswordHash:    testHash,
	}
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestGenerate(t *testing.T) {
	h := &stubHasher{hash: testHash}

	m, err := Generate(h, "correct horse battery")
	require.NoError(t, err)

	hex := regexp.MustCompile(`^[0-9a-f]{64}$`)
	assert.Regexp(t, hex, m.JWTSecret)
	assert.Regexp(t, hex, m.SessionSecret)
	assert.Regexp(t, hex, m.StorageEncryptionKey)

	assert.GreaterOrEqual(t, len(m.PostgresPassword), 24)
	assert.GreaterOrEqual(t, len(m.RedisPassword), 24)
	assert.NotEqual(t, m.PostgresPassword, m.RedisPassword)

	assert.Equal(t, testHash, m.AdminPasswordHash)
	assert.Equal(t, "correct horse battery", h.got)
}

func TestGenerate_Independent(t *testing.T) {
	h := &stubHasher{hash: testHash}

	m, err := Generate(h, "pw")
	require.NoError(t, err)

	assert.NotEqual(t, m.JWTSecret, m.SessionSecret)
	assert.NotEqual(t, m.SessionSecret, m.StorageEncryptionKey)
}

func TestGenerate_HasherFailure(t *testing.T) {
	h := &stubHasher{err: errors.New("container not running")}

	_, err := Generate(h, "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHasherUnavailable)
}

// =============================================================================
// Marshal/Parse Tests
// =============================================================================

func TestMarshal_SortedAndQuoted(t *testing.T) {
	out := string(sampleMaterial().Marshal())

	var keys []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'"), "value of %s not quoted", key)
		keys = append(keys, key)
	}
	assert.Equal(t, RequiredKeys, keys)
}

func TestParse_RoundTrip(t *testing.T) {
	m := sampleMaterial()

	parsed, err := Parse(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParse_HashNotExpanded(t *testing.T) {
	t.Setenv("argon2id", "boom")

	parsed, err := Parse(sampleMaterial().Marshal())
	require.NoError(t, err)
	assert.Equal(t, testHash, parsed.AdminPasswordHash)
}

func TestParse_MissingKeys(t *testing.T) {
	data := "JWT_SECRET='abc'\nSESSION_SECRET='def'\n"

	_, err := Parse([]byte(data))
	require.Error(t, err)

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), KeyStorageEncryptionKey)
	assert.Contains(t, err.Error(), KeyAdminPasswordHash)
}

func TestParse_EmptyValue(t *testing.T) {
	m := sampleMaterial()
	m.RedisPassword = ""

	_, err := Parse(m.Marshal())
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("this is not dotenv\n"))

	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)
}
