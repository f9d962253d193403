package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/backup"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/lifecycle"
	"github.com/artpar/tunnelgate/internal/shell/process"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitValidation  = 2
	ExitEnvironment = 3
	ExitSecrets     = 4
	ExitSynthesis   = 5
	ExitSnapshot    = 6
	ExitLocked      = 7
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&cli{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		category, code := classify(err)
		fmt.Fprintf(stderr, "%s: %v\n", category, err)
		return code
	}
	return ExitSuccess
}

// classify maps an error to its reported category and exit code.
func classify(err error) (string, int) {
	var (
		validationErr  *params.ValidationError
		environmentErr *lifecycle.EnvironmentError
		dockerErr      *docker.DockerError
		integrityErr   *secrets.IntegrityError
		synthesisErr   *synth.SynthesisError
		snapshotErr    *backup.SnapshotError
	)

	switch {
	case errors.Is(err, process.ErrLocked):
		return "locked", ExitLocked
	case errors.As(err, &validationErr),
		errors.Is(err, authpolicy.ErrInvalidUser),
		errors.Is(err, authpolicy.ErrUserExists),
		errors.Is(err, lifecycle.ErrUnknownService),
		errors.Is(err, lifecycle.ErrUnknownUser),
		errors.Is(err, lifecycle.ErrNotPrepared):
		return "validation", ExitValidation
	case errors.As(err, &snapshotErr):
		return "snapshot", ExitSnapshot
	case errors.As(err, &synthesisErr):
		return "synthesis", ExitSynthesis
	case errors.As(err, &integrityErr):
		return "secrets", ExitSecrets
	case errors.As(err, &environmentErr), errors.As(err, &dockerErr):
		return "environment", ExitEnvironment
	default:
		return "error", ExitFailure
	}
}
