// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/config"
)

// Output formats for accounts list.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// NewAccountsCmd creates the accounts subcommand.
func NewAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect stored accounts",
		Long: `Inspect the accounts in the configured store. Password hashes are
never printed.`,
	}
	config.BindStoreFlags(cmd.PersistentFlags())

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsCountCmd())
	return cmd
}

func newAccountsListCmd() *cobra.Command {
	var output, emailPattern string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains([]string{outputTable, outputJSON, outputYAML}, output) {
				return oops.Code("INVALID_OUTPUT").
					With("output", output).
					Errorf("output must be table, json or yaml, got %q", output)
			}
			match, err := compileEmailFilter(emailPattern)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *auth.Service) error {
				accounts, err := svc.ListAccounts(cmd.Context())
				if err != nil {
					return oops.With("operation", "list accounts").Wrap(err)
				}
				accounts = slices.DeleteFunc(accounts, func(a auth.AccountSummary) bool {
					return !match(a.Email)
				})
				slices.SortFunc(accounts, func(a, b auth.AccountSummary) int {
					return a.CreatedAt.Compare(b.CreatedAt)
				})
				out, err := formatAccounts(accounts, output)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json, yaml)")
	cmd.Flags().StringVar(&emailPattern, "email", "", "only list accounts whose email matches this glob (e.g. '*@example.com')")
	return cmd
}

// compileEmailFilter returns a predicate for pattern. An empty pattern matches everything.
func compileEmailFilter(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.Code("INVALID_PATTERN").With("pattern", pattern).Wrap(err)
	}
	return g.Match, nil
}

func newAccountsCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(svc *auth.Service) error {
				n, err := svc.CountAccounts(cmd.Context())
				if err != nil {
					return oops.With("operation", "count accounts").Wrap(err)
				}
				cmd.Println(n)
				return nil
			})
		},
	}
}

// withService opens the configured store, builds a service over it and runs fn.
func withService(cmd *cobra.Command, fn func(*auth.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	accountStore, err := OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}
	defer func() {
		if closeErr := accountStore.Close(); closeErr != nil {
			logger.Warn("error closing account store", "error", closeErr)
		}
	}()

	svc, err := newService(cfg, accountStore, logger)
	if err != nil {
		return err
	}
	return fn(svc)
}

func formatAccounts(accounts []auth.AccountSummary, output string) (string, error) {
	switch output {
	case outputJSON:
		data, err := json.MarshalIndent(accounts, "", "  ")
		if err != nil {
			return "", oops.Code("FORMAT_FAILED").With("output", output).Wrap(err)
		}
		return string(data) + "\n", nil
	case outputYAML:
		data, err := yaml.Marshal(accounts)
		if err != nil {
			return "", oops.Code("FORMAT_FAILED").With("output", output).Wrap(err)
		}
		return string(data), nil
	default:
		return formatAccountsTable(accounts), nil
	}
}

// formatAccountsTable formats accounts as a human-readable table.
func formatAccountsTable(accounts []auth.AccountSummary) string {
	if len(accounts) == 0 {
		return "No accounts.\n"
	}

	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t-------")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.ID, a.Username, a.Email, a.CreatedAt.UTC().Format(time.RFC3339))
	}

	_ = w.Flush()
	return string(buf)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
