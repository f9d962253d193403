package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"

	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/dns"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/monitoring"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/synth"
	shelldns "github.com/artpar/tunnelgate/internal/shell/dns"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/lifecycle"
	"github.com/artpar/tunnelgate/internal/shell/secretstore"
)

// cli carries state shared by every command.
type cli struct {
	configPath string
	cfg        *Config
	logger     *slog.Logger

	stdout io.Writer
	stderr io.Writer
}

// =============================================================================
// Command Tree
// =============================================================================

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "tunnelgate",
		Short: "Install and operate a self-hosted WireGuard gateway behind SSO",
		Long: `tunnelgate provisions a WireGuard VPN with a web admin panel, fronted by
a TLS reverse proxy and protected by single sign-on with optional TOTP,
on a single Linux host.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = SetupLogger(cfg, c.stderr)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newUpCmd(c),
		newDownCmd(c),
		newRestartCmd(c),
		newUpdateCmd(c),
		newStatusCmd(c),
		newLogsCmd(c),
		newRenderCmd(c),
		newCheckDNSCmd(c),
		newHashPasswordCmd(c),
		newAddUserCmd(c),
		newTOTPResetCmd(c),
		newBackupCmd(c),
		newRestoreCmd(c),
		newVersionCmd(c),
	)
	return root
}

// withSession opens a session for the duration of fn.
func (c *cli) withSession(mutating bool, fn func(*session) error) error {
	s, err := openSession(c.cfg, c.logger, mutating)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// =============================================================================
// Lifecycle Commands
// =============================================================================

func newUpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Check the host, write the stack and start it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.Collect(c.cfg.Stack())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			return c.withSession(true, func(s *session) error {
				if err := s.manager.Preflight(ctx, p); err != nil {
					return err
				}
				bound, err := s.manager.Prepare(ctx, p)
				if err != nil {
					return err
				}
				if _, err := s.manager.Start(ctx, bound); err != nil {
					return err
				}

				report := s.manager.AwaitHealthy(ctx, c.cfg.Health.Timeout, c.cfg.Health.PollInterval)
				printUpSummary(c.stdout, bound.Params(), report)
				return nil
			})
		},
	}
}

func printUpSummary(w io.Writer, p params.Params, report monitoring.HealthReport) {
	if report.Healthy() {
		fmt.Fprintf(w, "stack is up (%s)\n", report.Elapsed.Round(time.Second))
	} else {
		fmt.Fprintf(w, "stack is up but degraded; still waiting on %s\n", strings.Join(report.Waiting, ", "))
	}
	fmt.Fprintf(w, "  login:     %s\n", p.AuthURL())
	fmt.Fprintf(w, "  vpn admin: https://%s\n", p.AdminHost())
	fmt.Fprintf(w, "  dashboard: https://%s\n", p.DashboardHost())
	if p.TLSMethod == params.TLSSelfSigned {
		fmt.Fprintln(w, "  tls:       self-signed; expect a browser warning")
	}
	for _, e := range synth.Exposures(p) {
		fmt.Fprintf(w, "  warning:   %s\n", e)
	}
}

func newDownCmd(c *cli) *cobra.Command {
	var volumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the stack containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				if err := s.manager.Down(cmd.Context(), volumes); err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, "stack removed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&volumes, "volumes", false, "also remove named volumes (deletes the auth database and tunnel state)")
	return cmd
}

func newRestartCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart every service in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				return s.manager.Restart(cmd.Context())
			})
		},
	}
}

func newUpdateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Pull images and recreate the containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withSession(true, func(s *session) error {
				if _, err := s.manager.Update(ctx); err != nil {
					return err
				}
				report := s.manager.AwaitHealthy(ctx, c.cfg.Health.Timeout, c.cfg.Health.PollInterval)
				fmt.Fprintf(c.stdout, "stack updated: %s\n", report.Status)
				return nil
			})
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lifecycle state, container health and recent history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(false, func(s *session) error {
				st, err := s.manager.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(c.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				printStatus(c.stdout, st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStatus(w io.Writer, st *lifecycle.Status) {
	fmt.Fprintf(w, "state:  %s\nhealth: %s\n\n", st.State, st.Health)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tCONTAINER\tSTATE\tHEALTH\tRESTARTS")
	for _, ch := range st.Containers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", ch.Service, ch.Name, ch.State, ch.Health, ch.Restarts)
	}
	tw.Flush()

	if len(st.Transitions) > 0 {
		fmt.Fprintln(w, "\nrecent transitions:")
		for _, t := range st.Transitions {
			fmt.Fprintf(w, "  %s  %s\n", t.CreatedAt.Local().Format(time.DateTime), t)
		}
	}
	if len(st.Snapshots) > 0 {
		fmt.Fprintln(w, "\nsnapshots:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sn := range st.Snapshots {
			fmt.Fprintf(tw, "  %s\t%s\t%d bytes\t%s\n", sn.Name, sn.Status, sn.SizeBytes, sn.Error)
		}
		tw.Flush()
	}
}

func newLogsCmd(c *cli) *cobra.Command {
	var opts docker.LogOptions
	cmd := &cobra.Command{
		Use:   "logs [service]",
		Short: "Print the logs of one service, or of all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := ""
			if len(args) == 1 {
				service = args[0]
			}
			if opts.Follow && service == "" {
				return fmt.Errorf("%w: --follow needs a service", lifecycle.ErrUnknownService)
			}
			return c.withSession(false, func(s *session) error {
				return s.manager.Logs(cmd.Context(), service, opts, c.stdout)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "stream new output")
	cmd.Flags().StringVar(&opts.Tail, "tail", "100", `lines to show from the end, or "all"`)
	cmd.Flags().BoolVarP(&opts.Timestamps, "timestamps", "t", false, "show timestamps")
	return cmd
}

// =============================================================================
// Render
// =============================================================================

func newRenderCmd(c *cli) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Synthesize the stack artifacts without writing the install or starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.Collect(c.cfg.Stack())
			if err != nil {
				return err
			}

			material, err := renderMaterial(layout.New(c.cfg.InstallDir).Path(layout.EnvFile), p.AdminPassword)
			if err != nil {
				return err
			}
			set, err := synth.Synthesize(p, material)
			if err != nil {
				return err
			}

			if outDir == "" {
				for _, a := range set.Files {
					fmt.Fprintf(c.stdout, "# ==> %s <==\n%s\n", a.Name, a.Data)
				}
				return nil
			}
			for _, a := range set.Files {
				path := filepath.Join(outDir, a.Name)
				if err := os.MkdirAll(filepath.Dir(path), layout.PermSecretDir); err != nil {
					return err
				}
				if err := atomicwriter.WriteFile(path, a.Data, a.Mode); err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write artifacts under this directory instead of stdout")
	return cmd
}

// renderMaterial uses the install's secret file when there is one, so the
// output matches what up would write. Otherwise it generates throwaway
// material that is never persisted.
func renderMaterial(envPath, adminPassword string) (secrets.Material, error) {
	m, err := secretstore.Load(envPath)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return secrets.Material{}, err
	}
	return secrets.Generate(crypto.NewArgon2Hasher(), adminPassword)
}

func newCheckDNSCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-dns",
		Short: "Check that every routed hostname points at the public host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.Collect(c.cfg.Stack())
			if err != nil {
				return err
			}
			results := shelldns.NewResolver().Check(cmd.Context(), dns.Hostnames(p), p.PublicHost)
			printDNS(c.stdout, p.PublicHost, results)
			return nil
		},
	}
}

func printDNS(w io.Writer, publicHost string, results []dns.VerificationResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOSTNAME\tSTATUS\tFIX")
	for _, res := range results {
		if res.Verified {
			fmt.Fprintf(tw, "%s\tok (%s)\t\n", res.Hostname, res.Method)
			continue
		}
		rec := dns.Instruction(res.Hostname, publicHost)
		fmt.Fprintf(tw, "%s\t%s\tadd %s %s -> %s\n", res.Hostname, res.Error, rec.Type, rec.Name, rec.Value)
	}
	tw.Flush()
}

// =============================================================================
// Credential Commands
// =============================================================================

func newHashPasswordCmd(c *cli) *cobra.Command {
	var inContainer bool
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the argon2id hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !inContainer {
				hash, err := crypto.NewArgon2Hasher().Hash(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, hash)
				return nil
			}
			return c.withSession(false, func(s *session) error {
				hash, err := lifecycle.NewContainerHasher(s.manager.Orchestrator(), 0).Hash(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, hash)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&inContainer, "container", false, "hash with the running authentication service")
	return cmd
}

func newAddUserCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add-user <username> <email> <password> <group>",
		Short: "Add a user to the credential store",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				if err := s.manager.AddUser(args[0], args[1], args[2], args[3]); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "user %s added\n", args[0])
				return nil
			})
		},
	}
}

func newTOTPResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "totp-reset <username>",
		Short: "Remove a user's TOTP registration so they enrol again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				if err := s.manager.TOTPReset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "totp reset for %s\n", args[0])
				return nil
			})
		},
	}
}

// =============================================================================
// Snapshot Commands
// =============================================================================

func newBackupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Take a snapshot of the auth database, users, tunnel state and secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				dir, err := s.backups().Backup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, dir)
				return nil
			})
		},
	}
}

func newRestoreCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Restore a snapshot taken by backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(true, func(s *session) error {
				if err := s.backups().Restore(cmd.Context(), filepath.Base(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "restored %s; run restart to load restored secrets\n", filepath.Base(args[0]))
				return nil
			})
		},
	}
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "tunnelgate %s (built %s)\n", Version, BuildTime)
		},
	}
}
