// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyward/internal/core"
	"github.com/toeirei/keyward/internal/db"
	"github.com/toeirei/keyward/internal/events"
	"github.com/toeirei/keyward/internal/fingerprint"
	"github.com/toeirei/keyward/internal/i18n"
	"github.com/toeirei/keyward/internal/model"
	"github.com/toeirei/keyward/internal/tui"
	"github.com/toeirei/keyward/internal/wheel"
)

func newReviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review pending and denied keys interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(cmd.Context(), a.svc.Engine, a.svc.Store, a.svc.Inspector, a.svc.HashType(), a.svc.Bus)
		},
	}
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a compressed snapshot of every key",
		Long:  `Writes every remote key with its state and role, plus the public local identity files, to a zstd-compressed snapshot. Private keys are never included.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			if _, err := a.svc.WriteBackup(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(a.messages(cmd), i18n.T("msg.backup_written", args[0]))
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore keys from a snapshot",
		Long: `Restores keys from a snapshot written by 'backup'. By default the snapshot
is integrated: ids already stored are left as they are. With --full every
remote key is deleted first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open backup file: %w", err)
			}
			defer func() { _ = f.Close() }()

			sum, err := a.svc.Restore(cmd.Context(), f, core.RestoreOptions{Full: full})
			if err != nil {
				return err
			}
			for id, ferr := range sum.Failed {
				fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("msg.failed", id, ferr))
			}
			fmt.Fprintln(a.messages(cmd), i18n.T("msg.restored", sum.Restored.Len(), len(sum.Skipped)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Delete every key before restoring")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		id    string
		tag   string
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log of key events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := db.Filter{MinionID: id, Tag: tag, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			entries, err := a.svc.AuditEntries(cmd.Context(), f)
			if err != nil {
				return err
			}
			if format := a.format(); format != formatText {
				return renderData(cmd.OutOrStdout(), format, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, i18n.T("audit.empty"))
				return nil
			}
			if id != "" {
				if seen, ok, err := a.svc.LastSeen(cmd.Context(), id); err != nil {
					return err
				} else if ok {
					fmt.Fprintln(out, i18n.T("audit.last_seen", id, seen.Format(time.RFC3339)))
				} else {
					fmt.Fprintln(out, i18n.T("audit.never_seen", id))
				}
			}
			fmt.Fprintln(out, i18n.T("audit.header"))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tTAG\tACT\tMINION\tRESULT\tDETAILS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.Username, e.Tag, e.Act, e.MinionID, e.Result, e.Details)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Only events for this minion id")
	cmd.Flags().StringVar(&tag, "tag", "", `Only events on this topic ("key", "auth")`)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this")
	cmd.AddCommand(newAuditPurgeCmd(a))
	return cmd
}

func newAuditPurgeCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		compact   bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop old audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			n, err := a.svc.PurgeAudit(cmd.Context(), olderThan, compact)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.messages(cmd), i18n.T("msg.purged", n))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Drop entries older than this")
	cmd.Flags().BoolVar(&compact, "compact", false, "Compact the database afterwards")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var opts core.PruneOptions
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Reject or delete accepted keys of inactive minions",
		Long: `Uses the audit log to find accepted minions that have not authenticated
for a while. Minions idle longer than --delete-after are deleted, those idle
longer than --reject-after are rejected. Minions that never authenticated
are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.RejectAfter == 0 && opts.DeleteAfter == 0 {
				return errors.New("at least one of --reject-after or --delete-after is required")
			}
			res, err := a.svc.Prune(cmd.Context(), opts)
			if err != nil {
				return err
			}
			msg := a.messages(cmd)
			for _, id := range res.Deleted.ChangedIDs() {
				fmt.Fprintln(msg, i18n.T("msg.key_deleted", id))
			}
			for _, id := range res.Rejected.ChangedIDs() {
				fmt.Fprintln(msg, i18n.T("msg.key_rejected", id))
			}
			fmt.Fprintln(msg, i18n.T("msg.pruned", res.Deleted.Changed.Len()+res.Rejected.Changed.Len()))
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.RejectAfter, "reject-after", 0, "Reject minions idle for longer than this")
	cmd.Flags().DurationVar(&opts.DeleteAfter, "delete-after", 0, "Delete minions idle for longer than this")
	return cmd
}

func newWheelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wheel <function> [key=value...]",
		Short: "Call a key function with keyword arguments",
		Long: `Calls one of the key.* functions (see 'wheel list') with keyword
arguments given as key=value. Values that look like JSON objects or arrays
are decoded, so dict functions can be called as
  keyward wheel key.accept_dict 'match={"pending":["web-1"]}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := wheel.New(a.svc)
			if args[0] == "list" {
				for _, n := range d.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			kw, err := wheel.ParseArgs(args[1:])
			if err != nil {
				return err
			}
			ret, err := d.Call(cmd.Context(), args[0], kw)
			if err != nil {
				return err
			}
			format := a.format()
			if format == formatText {
				format = formatYAML
			}
			return renderData(cmd.OutOrStdout(), format, plainValue(ret))
		},
	}
}

// plainValue converts state keyed maps to name keyed ones for rendering.
func plainValue(v any) any {
	switch t := v.(type) {
	case model.Listing:
		return plainListing(t)
	case fingerprint.KeyMap:
		return plainKeyMap(t)
	}
	return v
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Work with the event socket",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print events received on the configured event socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Event.Socket
			if path == "" {
				return errors.New("event.socket is not configured")
			}
			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			return events.Listen(cmd.Context(), path, func(env model.Envelope) {
				mu.Lock()
				defer mu.Unlock()
				_ = enc.Encode(map[string]any{"tag": env.Tag, "data": env.Data})
			})
		},
	})
	return cmd
}
