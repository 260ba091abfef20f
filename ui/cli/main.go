// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/keyward/buildvars"
	"github.com/toeirei/keyward/internal/config"
	"github.com/toeirei/keyward/internal/core"
	"github.com/toeirei/keyward/internal/db"
	"github.com/toeirei/keyward/internal/i18n"
	"github.com/toeirei/keyward/internal/logging"
	"golang.org/x/term"
)

var version = buildvars.VersionOrDefault("dev")
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// app holds the state shared by one command tree.
type app struct {
	cfgFile     string
	verbose     bool
	showVersion bool
	output      string

	cfg config.Config
	svc *core.Services

	// interactive overrides terminal detection when set.
	interactive *bool
	// copyText writes to the system clipboard.
	copyText func(string) error
	// writeDefaultConfig persists a default config on first run.
	writeDefaultConfig bool
	serviceOpts        []core.Option
}

// Execute runs the CLI entrypoint. The main package should call this
// function and handle process exit.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd creates and configures a new root cobra command. Each call
// returns an independent tree, which keeps tests isolated.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{copyText: clipboardWrite, writeDefaultConfig: true})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward manages the trust state of minion public keys.",
		Long: `Keyward keeps the public keys presented by minions in one of four
states: accepted, pending, rejected or denied. Keys move between the
states by operator action or by the auto-key policy, and every change is
announced as an event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), compositeVersion())
				os.Exit(0)
			}
			return a.setupServices(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.svc != nil {
				return a.svc.Close()
			}
			return nil
		},
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&a.showVersion, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Message language ("en", "de")`)
	cmd.PersistentFlags().String("pki-dir", "", "Directory holding the key state directories")
	cmd.PersistentFlags().StringVar(&a.output, "out", "", `Output format ("text", "json", "yaml")`)

	cmd.AddCommand(
		newListCmd(a),
		newAcceptCmd(a),
		newRejectCmd(a),
		newDeleteCmd(a),
		newPrintCmd(a),
		newFingerCmd(a),
		newGenKeysCmd(a),
		newRegisterCmd(a),
		newReviewCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newAuditCmd(a),
		newPruneCmd(a),
		newWheelCmd(a),
		newEventsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setupServices loads the configuration and builds the core services.
func (a *app) setupServices(cmd *cobra.Command) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	a.cfg, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		// First run: persist the defaults so the file can be inspected.
		if a.writeDefaultConfig {
			if written, writeErr := config.WriteConfigFile(&a.cfg, false); writeErr != nil {
				log.Warnf("could not write default config file: %v", writeErr)
			} else {
				log.Debugf("wrote default config to %s", written)
			}
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if a.output != "" {
		a.cfg.Output = a.output
	}

	logging.SetDebug(a.verbose)
	db.SetDebug(a.verbose)
	i18n.Init(a.cfg.Language)

	a.svc, err = core.InitializeServices(a.cfg, a.serviceOpts...)
	if err != nil {
		return err
	}
	if err := a.svc.Store.Init(); err != nil {
		logging.L.Warn("unable to create key directories", "pki_dir", a.cfg.PKIDir, "err", err)
	}
	return nil
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	// Make sure the user-provided file exists to avoid unwanted behavior.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// isInteractive reports whether prompts should be shown.
func (a *app) isInteractive(cmd *cobra.Command) bool {
	if a.interactive != nil {
		return *a.interactive
	}
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// messages returns the writer for human oriented output. Structured output
// keeps stdout clean, so messages go to stderr then.
func (a *app) messages(cmd *cobra.Command) io.Writer {
	if a.format() == formatText {
		return cmd.OutOrStdout()
	}
	return cmd.ErrOrStderr()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		// No services are needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from
// the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, found := debug.ReadBuildInfo(); found {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/toeirei/keyward" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	// As a last resort show the commit provided via ldflags.
	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
