package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/traefik"
)

// =============================================================================
// Artifact Set
// =============================================================================

// Artifact is one rendered file, addressed relative to the install dir.
type Artifact struct {
	Name string
	Mode fs.FileMode
	Data []byte
}

// ArtifactSet is the synthesized output. Files are in write order; Draft
// keeps the structured values they were rendered from.
type ArtifactSet struct {
	Files    []Artifact
	Draft    Draft
	Topology *compose.ParsedSpec
}

// File returns the artifact named name.
func (s ArtifactSet) File(name string) (Artifact, bool) {
	for _, f := range s.Files {
		if f.Name == name {
			return f, true
		}
	}
	return Artifact{}, false
}

// =============================================================================
// Synthesize
// =============================================================================

// Synthesize compiles p and m into the artifact set. It is deterministic:
// equal inputs give byte-identical files. On any error nothing is returned.
func Synthesize(p params.Params, m secrets.Material) (ArtifactSet, error) {
	d := Base(p, m)

	for _, t := range Transforms() {
		next := d.Clone()
		if err := t.Apply(&next, p); err != nil {
			return ArtifactSet{}, asSynthesisError(t.Name, err)
		}
		d = next
	}

	if err := CheckConsistency(d, p); err != nil {
		return ArtifactSet{}, err
	}

	if err := stampAuthConfig(&d); err != nil {
		return ArtifactSet{}, err
	}

	files, err := render(d)
	if err != nil {
		return ArtifactSet{}, err
	}

	topology, err := reload(files[0].Data, m)
	if err != nil {
		return ArtifactSet{}, err
	}

	return ArtifactSet{Files: files, Draft: d, Topology: topology}, nil
}

// LabelAuthConfigDigest carries a digest of the rendered auth configuration
// on the authelia service. Authelia reads that file only at startup, so a
// changed policy must change the service for the container to be recreated.
const LabelAuthConfigDigest = "com.tunnelgate.auth-config-digest"

func stampAuthConfig(d *Draft) error {
	data, err := authpolicy.RenderConfig(d.Auth)
	if err != nil {
		return NewSynthesisError("render", "auth config", err)
	}
	sum := sha256.Sum256(data)
	err = d.EditService(ServiceAuthelia, func(s *compose.ServiceSpec) {
		if s.Labels == nil {
			s.Labels = map[string]string{}
		}
		s.Labels[LabelAuthConfigDigest] = hex.EncodeToString(sum[:8])
	})
	if err != nil {
		return NewSynthesisError("render", err.Error(), ErrInvalidTopology)
	}
	return nil
}

func render(d Draft) ([]Artifact, error) {
	topology, err := compose.Render(d.Compose)
	if err != nil {
		return nil, NewSynthesisError("render", "topology", err)
	}
	auth, err := authpolicy.RenderConfig(d.Auth)
	if err != nil {
		return nil, NewSynthesisError("render", "auth config", err)
	}
	users, err := authpolicy.RenderUsers(d.Users)
	if err != nil {
		return nil, NewSynthesisError("render", "users", err)
	}
	tls, err := traefik.RenderDynamic(d.TLS)
	if err != nil {
		return nil, NewSynthesisError("render", "tls", err)
	}

	return []Artifact{
		{Name: layout.ComposeFile, Mode: layout.PermPublicFile, Data: topology},
		{Name: layout.AuthConfigFile, Mode: layout.PermPublicFile, Data: auth},
		{Name: layout.UsersFile, Mode: layout.PermSecretFile, Data: users},
		{Name: layout.TLSFile, Mode: layout.PermPublicFile, Data: tls},
	}, nil
}

// reload proves the rendered topology loads and references only secrets
// the material provides.
func reload(data []byte, m secrets.Material) (*compose.ParsedSpec, error) {
	env := m.Env()
	for _, v := range compose.ExtractVariablesFromYAML(string(data)) {
		if _, ok := env[v]; !ok {
			return nil, NewSynthesisError("reload", fmt.Sprintf("unknown variable ${%s}", v), ErrInvalidTopology)
		}
	}

	spec, err := compose.Load(context.Background(), data, compose.LoadOptions{
		ProjectName: Project,
		Environment: env,
	})
	if err != nil {
		return nil, NewSynthesisError("reload", err.Error(), ErrInvalidTopology)
	}

	var names []string
	for _, svc := range spec.Services {
		names = append(names, svc.Name)
	}
	want := BringUpOrder()
	sort.Strings(want)
	if fmt.Sprint(names) != fmt.Sprint(want) {
		return nil, NewSynthesisError("reload", fmt.Sprintf("services %v, want %v", names, want), ErrInvalidTopology)
	}
	return spec, nil
}

func asSynthesisError(stage string, err error) error {
	var se *SynthesisError
	if errors.As(err, &se) {
		return err
	}
	return NewSynthesisError(stage, err.Error(), ErrInvalidTopology)
}
