package layout

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayout_Path(t *testing.T) {
	l := New("/opt/tunnelgate/")

	assert.Equal(t, "/opt/tunnelgate", l.Root)
	assert.Equal(t, filepath.Join("/opt/tunnelgate", "authelia", "users_database.yml"), l.Path(UsersFile))
	assert.Equal(t, filepath.Join("/opt/tunnelgate", ".env"), l.Path(EnvFile))
}

func TestDirs_ParentsFirst(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Dirs() {
		if parent := filepath.Dir(d.Path); parent != "." {
			assert.True(t, seen[parent], "%s listed before its parent", d.Path)
		}
		seen[d.Path] = true
	}
}

func TestDirs_SecretDirsNotWorldReadable(t *testing.T) {
	for _, d := range Dirs() {
		if strings.HasPrefix(d.Path, AutheliaDir) || d.Path == CertsDir || d.Path == BackupsDir {
			assert.Zero(t, d.Mode&0o007, "%s must not be world accessible", d.Path)
		}
	}
	assert.Zero(t, PermSecretFile&0o077)
}
