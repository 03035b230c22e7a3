package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/profile"
)

// newProfileCmd creates the `jarvis profile` command group.
func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect stored user profiles",
		Long: `Inspect the profiles stored in the database.

Examples:
  jarvis profile list
  jarvis profile show 123456789 --json`,
	}

	cmd.PersistentFlags().Bool("json", false, "print JSON instead of a table")
	cmd.AddCommand(newProfileListCmd(), newProfileShowCmd())
	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := openProfileStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			profiles, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), profiles)
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no profiles stored")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXTERNAL ID\tNAME\tINTERESTS\tGOALS\tUPDATED")
			for _, p := range profiles {
				fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%s\n",
					p.ID, p.ExternalID, p.DisplayName, len(p.Interests), len(p.Goals),
					p.UpdatedAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <external-id>",
		Short: "Show one profile by its chat identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			externalID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid external id %q: %w", args[0], err)
			}

			store, closeFn, err := openProfileStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := store.Get(cmd.Context(), externalID)
			if errors.Is(err, profile.ErrNotFound) {
				return fmt.Errorf("no profile for external id %d", externalID)
			}
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %d\n", p.ID)
			fmt.Fprintf(out, "External ID: %d\n", p.ExternalID)
			fmt.Fprintf(out, "Name:        %s\n", p.DisplayName)
			fmt.Fprintf(out, "Interests:   %s\n", joinOrDash(p.Interests))
			fmt.Fprintf(out, "Goals:       %s\n", joinOrDash(p.Goals))
			fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format(time.DateTime))
			fmt.Fprintf(out, "Updated:     %s\n", p.UpdatedAt.Format(time.DateTime))
			return nil
		},
	}
}

// openProfileStore opens the database from the resolved config.
func openProfileStore(cmd *cobra.Command) (*profile.SQLStore, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	db, err := openDatabase(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return profile.NewSQLStore(db, logger), func() { db.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}
