// Package layout names every file and directory of an install target and the
// permissions each one carries.
package layout

import (
	"io/fs"
	"path/filepath"
)

// Paths relative to the install directory.
const (
	EnvFile           = ".env"
	ComposeFile       = "docker-compose.yml"
	AutheliaDir       = "authelia"
	AuthConfigFile    = "authelia/configuration.yml"
	UsersFile         = "authelia/users_database.yml"
	TraefikDir        = "traefik"
	TraefikDynamicDir = "traefik/dynamic"
	TLSFile           = "traefik/dynamic/tls.yml"
	CertsDir          = "certs"
	CertFile          = "certs/cert.pem"
	KeyFile           = "certs/key.pem"
	LetsEncryptDir    = "letsencrypt"
	BackupsDir        = "backups"
	StateDB           = "state.db"
	LockFile          = ".tunnelgate.lock"
)

// Permissions.
const (
	PermPublicFile fs.FileMode = 0o644
	PermSecretFile fs.FileMode = 0o600
	PermPublicDir  fs.FileMode = 0o755
	PermSecretDir  fs.FileMode = 0o750
)

// Dir is a directory of the layout with its mode.
type Dir struct {
	Path string
	Mode fs.FileMode
}

// Dirs lists the directories created by prepare, parents first.
func Dirs() []Dir {
	return []Dir{
		{Path: AutheliaDir, Mode: PermSecretDir},
		{Path: TraefikDir, Mode: PermPublicDir},
		{Path: TraefikDynamicDir, Mode: PermPublicDir},
		{Path: CertsDir, Mode: PermSecretDir},
		{Path: LetsEncryptDir, Mode: PermSecretDir},
		{Path: BackupsDir, Mode: PermSecretDir},
	}
}

// Layout resolves layout paths under an install directory.
type Layout struct {
	Root string
}

// New returns the layout rooted at dir.
func New(dir string) Layout {
	return Layout{Root: filepath.Clean(dir)}
}

// Path joins rel onto the install directory.
func (l Layout) Path(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}
