// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyward/internal/engine"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/i18n"
	"github.com/toeirei/keyward/internal/match"
	"github.com/toeirei/keyward/internal/model"
)

// selection holds the flags shared by the commands that act on matched keys.
type selection struct {
	all   bool
	exact bool
	yes   bool
}

func (s *selection) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&s.all, "all", false, "Act on every eligible key")
	cmd.Flags().BoolVarP(&s.exact, "exact", "E", false, "Match ids literally instead of as globs")
	cmd.Flags().BoolVarP(&s.yes, "yes", "y", false, "Answer yes to the confirmation prompt")
}

// expr returns the match expression from args or --all.
func (s *selection) expr(args []string) (string, error) {
	switch {
	case s.all && len(args) > 0:
		return "", errors.New("--all cannot be combined with a match")
	case s.all:
		return "*", nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("a match expression or --all is required")
	}
}

func (s *selection) spec(args []string) (match.Spec, string, error) {
	expr, err := s.expr(args)
	if err != nil {
		return nil, "", err
	}
	return match.Parse(expr, s.exact && !s.all), expr, nil
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [state]",
		Short: "List keys, optionally only those in one state",
		Long: `Lists keys by state. The state may be given by its name or a prefix
("acc", "pre", "un", "rej", "den"), "local" or "all" (the default).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := "all"
			if len(args) == 1 {
				code = args[0]
			}
			l, err := match.ByState(a.svc.Store, code)
			if err != nil {
				return err
			}
			return a.printListing(cmd.OutOrStdout(), l)
		},
	}
}

// transition describes one of the accept, reject and delete commands.
type transition struct {
	verb       string // accept, reject, delete
	eligible   []model.KeyState
	defaultYes bool
	noMatch    string
	run        func(cmd *cobra.Command, spec match.Spec) (*model.Result, error)
	done       func(id string) string
}

// confirmAndRun resolves spec, narrows it to the eligible states, shows the
// keys, asks for confirmation and then acts on exactly the shown keys.
func (a *app) confirmAndRun(cmd *cobra.Command, sel *selection, args []string, t transition) error {
	spec, expr, err := sel.spec(args)
	if err != nil {
		return err
	}
	l, err := spec.Resolve(a.svc.Store)
	if err != nil {
		return err
	}
	shown := l.Only(t.eligible...).Compact()
	msg := a.messages(cmd)
	if shown.Len() == 0 {
		fmt.Fprintln(msg, i18n.T(t.noMatch, expr))
		return nil
	}

	if !sel.yes && a.isInteractive(cmd) {
		fmt.Fprintln(msg, i18n.T("prompt."+t.verb))
		writeListing(msg, shown)
		prompt := i18n.T("prompt.proceed")
		if !t.defaultYes {
			prompt = i18n.T("prompt.proceed_default_no")
		}
		if !confirmed(promptForConfirmation(cmd.InOrStdin(), msg, prompt), t.defaultYes) {
			fmt.Fprintln(msg, i18n.T("msg.aborted"))
			return nil
		}
	}

	res, err := t.run(cmd, match.DictSpec(shown))
	if err != nil {
		return err
	}
	for _, id := range res.ChangedIDs() {
		fmt.Fprintln(msg, t.done(id))
	}
	failed := make([]string, 0, len(res.Failed))
	for id := range res.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("msg.failed", id, res.Failed[id]))
	}
	if f := a.format(); f != formatText {
		if err := renderData(cmd.OutOrStdout(), f, plainListing(res.Listing)); err != nil {
			return err
		}
	}
	return engine.FailedError(res)
}

func newAcceptCmd(a *app) *cobra.Command {
	var sel selection
	var includeRejected, includeDenied, includeAll bool
	cmd := &cobra.Command{
		Use:   "accept <match>",
		Short: "Accept pending keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AcceptOptions{
				IncludeRejected: includeRejected || includeAll,
				IncludeDenied:   includeDenied || includeAll,
			}
			eligible := []model.KeyState{model.StatePending}
			if opts.IncludeRejected {
				eligible = append(eligible, model.StateRejected)
			}
			if opts.IncludeDenied {
				eligible = append(eligible, model.StateDenied)
			}
			return a.confirmAndRun(cmd, &sel, args, transition{
				verb:       "accept",
				eligible:   eligible,
				defaultYes: true,
				noMatch:    "msg.no_match",
				run: func(cmd *cobra.Command, spec match.Spec) (*model.Result, error) {
					return a.svc.Engine.Accept(cmd.Context(), spec, opts)
				},
				done: func(id string) string { return i18n.T("msg.key_accepted", id) },
			})
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&includeRejected, "include-rejected", false, "Also accept rejected keys")
	cmd.Flags().BoolVar(&includeDenied, "include-denied", false, "Also accept denied keys")
	cmd.Flags().BoolVar(&includeAll, "include-all", false, "Also accept rejected and denied keys")
	return cmd
}

func newRejectCmd(a *app) *cobra.Command {
	var sel selection
	var includeAccepted, includeDenied, includeAll bool
	cmd := &cobra.Command{
		Use:   "reject <match>",
		Short: "Reject pending keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RejectOptions{
				IncludeAccepted: includeAccepted || includeAll,
				IncludeDenied:   includeDenied || includeAll,
			}
			eligible := []model.KeyState{model.StatePending}
			if opts.IncludeAccepted {
				eligible = append(eligible, model.StateAccepted)
			}
			if opts.IncludeDenied {
				eligible = append(eligible, model.StateDenied)
			}
			return a.confirmAndRun(cmd, &sel, args, transition{
				verb:       "reject",
				eligible:   eligible,
				defaultYes: true,
				noMatch:    "msg.no_match",
				run: func(cmd *cobra.Command, spec match.Spec) (*model.Result, error) {
					return a.svc.Engine.Reject(cmd.Context(), spec, opts)
				},
				done: func(id string) string { return i18n.T("msg.key_rejected", id) },
			})
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&includeAccepted, "include-accepted", false, "Also reject accepted keys")
	cmd.Flags().BoolVar(&includeDenied, "include-denied", false, "Also reject denied keys")
	cmd.Flags().BoolVar(&includeAll, "include-all", false, "Also reject accepted and denied keys")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var (
		sel    selection
		denied bool
	)
	cmd := &cobra.Command{
		Use:   "delete <match>",
		Short: "Delete keys from every state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eligible := model.RemoteStates
			if denied {
				eligible = []model.KeyState{model.StateDenied}
			}
			return a.confirmAndRun(cmd, &sel, args, transition{
				verb:     "delete",
				eligible: eligible,
				noMatch:  "msg.no_match_any",
				run: func(cmd *cobra.Command, spec match.Spec) (*model.Result, error) {
					return a.svc.Engine.Delete(cmd.Context(), spec)
				},
				done: func(id string) string { return i18n.T("msg.key_deleted", id) },
			})
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&denied, "denied", false, "Only delete denied keys")
	return cmd
}

func newPrintCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "print <match>",
		Short: "Print the stored public keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec match.Spec
			switch {
			case all:
				spec = match.FullGlobSpec{"*"}
			case len(args) == 1:
				spec = match.GlobSpec(match.Split(args[0]))
			default:
				return errors.New("a match expression or --all is required")
			}
			keys, err := a.svc.Inspector.KeyString(spec)
			if err != nil {
				return err
			}
			return a.printKeyMap(cmd.OutOrStdout(), keys, true)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Print every key including local ones")
	return cmd
}

func newFingerCmd(a *app) *cobra.Command {
	var all, copyOut bool
	cmd := &cobra.Command{
		Use:   "finger <match>",
		Short: "Print key fingerprints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashType := a.svc.HashType()
			var (
				m   fingerprint.KeyMap
				err error
			)
			switch {
			case all:
				m, err = a.svc.Inspector.FingerAll(hashType)
			case len(args) == 1:
				m, err = a.svc.Inspector.Finger(match.GlobSpec(match.Split(args[0])), hashType)
			default:
				return errors.New("a match expression or --all is required")
			}
			if err != nil {
				return err
			}
			if err := a.printKeyMap(cmd.OutOrStdout(), m, false); err != nil {
				return err
			}
			if copyOut {
				var fps []string
				for _, st := range displayOrder {
					ids := make([]string, 0, len(m[st]))
					for id := range m[st] {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						fps = append(fps, m[st][id])
					}
				}
				if err := a.copyText(strings.Join(fps, "\n")); err != nil {
					return err
				}
				fmt.Fprintln(a.messages(cmd), i18n.T("msg.copied"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Fingerprint every key including local ones")
	cmd.Flags().String("hash-type", "", "Hash used for fingerprints ("+strings.Join(fingerprint.Hashes(), ", ")+")")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "Copy the fingerprints to the clipboard")
	return cmd
}

func newGenKeysCmd(a *app) *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "gen-keys",
		Short: "Generate the local identity key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.svc.GenKeys(name, force)
			if err != nil {
				return err
			}
			msg := a.messages(cmd)
			fmt.Fprintln(msg, i18n.T("msg.generated", out.PrivateFile, out.PublicFile))
			fmt.Fprintln(msg, out.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Base name of the key files (default: local_key_name)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key pair")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		pubFile string
		role    string
		grains  map[string]string
	)
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Run the registration handshake for a minion key",
		Long: `Presents a public key on behalf of minion <id>, exactly as a connecting
minion would. The key lands in the state decided by the stored keys, the
auto-key policy and the role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := os.ReadFile(pubFile)
			if err != nil {
				return fmt.Errorf("read public key: %w", err)
			}
			reg, err := a.svc.Engine.Register(cmd.Context(), engine.RegisterRequest{
				ID:     args[0],
				Pub:    string(pub),
				Role:   role,
				Grains: grains,
			})
			if reg.State != 0 {
				if f := a.format(); f != formatText {
					if rerr := renderData(cmd.OutOrStdout(), f, map[string]any{
						"id": reg.ID, "state": reg.State.String(), "act": reg.Act, "changed": reg.Changed,
					}); rerr != nil {
						return rerr
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.register_result", reg.ID, reg.State))
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&pubFile, "pub-file", "", "File holding the presented public key")
	cmd.Flags().StringVar(&role, "role", "", "Role the minion claims")
	cmd.Flags().StringToStringVar(&grains, "grain", nil, "Grain values used by autosign_grains_dir (key=value)")
	_ = cmd.MarkFlagRequired("pub-file")
	return cmd
}
