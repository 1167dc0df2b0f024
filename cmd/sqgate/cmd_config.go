// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration and manage source secrets",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Args:  cobra.NoArgs,
	Run:   runConfigShow,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a source DSN to the system keyring",
	Long: `Save a source DSN to the system keyring securely.

Sources reference the entry by name through dsn_secret, so connection strings
never need to appear in the sources file.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve a source DSN from the system keyring",
	Long:  `Retrieve a source DSN from the system keyring (masked, for verification).`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := GetSecret(args[0])
		if err != nil {
			return fmt.Errorf("error reading %s from keyring: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], maskSecret(secret))
		return nil
	},
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a source DSN from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := DeleteSecret(args[0]); err != nil {
			return fmt.Errorf("error deleting %s from keyring: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s from system keyring\n", args[0])
		return nil
	},
}

var hitCapCmd = &cobra.Command{
	Use:   "hit-cap <handle> <limit>",
	Short: "Set how many records a drain or page returns (-1=unbounded)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", args[1], err)
		}
		fields := map[string]any{"handle": args[0]}
		if limit >= 0 {
			fields["hit_cap"] = limit
		}
		return callGateway(cmd, "SetHitCap", fields)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetKeyCmd, configGetKeyCmd, configDeleteKeyCmd)
	rootCmd.AddCommand(configCmd, hitCapCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Server:")
	fmt.Fprintf(out, "  Host: %s\n", config.Server.Host)
	fmt.Fprintf(out, "  Port: %d\n", config.Server.Port)
	fmt.Fprintf(out, "  HTTP Port: %d\n", config.Server.HTTPPort)
	fmt.Fprintf(out, "  Reflection: %t\n", config.Server.EnableReflection)
	fmt.Fprintf(out, "  Require User ID: %t\n", config.Server.RequireUserID)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Poller:")
	fmt.Fprintf(out, "  Interval: %s\n", config.Poller.Interval)
	fmt.Fprintf(out, "  Page Size: %d\n", config.Poller.PageSize)
	fmt.Fprintf(out, "  Max Pending Results: %d\n", config.Poller.MaxPendingResults)
	fmt.Fprintf(out, "  Max Wait To Start: %s\n", config.Poller.MaxWaitToStart)
	if config.Poller.HistoryEnabled {
		fmt.Fprintf(out, "  History: %s\n", config.Poller.HistoryDB)
	} else {
		fmt.Fprintln(out, "  History: (disabled)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Federation:")
	fmt.Fprintf(out, "  Sources File: %s\n", config.Federation.SourcesFile)
	fmt.Fprintf(out, "  Hot Reload: %t\n", config.Federation.HotReload)
	fmt.Fprintf(out, "  Max Concurrency: %d\n", config.Federation.MaxConcurrency)
	fmt.Fprintf(out, "  Query Timeout: %s\n", config.Federation.QueryTimeout)
	if len(config.QuerySources) > 0 {
		fmt.Fprintf(out, "  Query Sources: %s\n", strings.Join(config.QuerySources, ", "))
	} else {
		fmt.Fprintln(out, "  Query Sources: (local)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Logging:")
	fmt.Fprintf(out, "  Level: %s\n", config.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", config.Logging.Format)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Data Directory: %s\n", config.DataDir)
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]

	fmt.Fprintf(cmd.OutOrStdout(), "Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}

	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}
	if err := SaveSecret(keyName, secret); err != nil {
		return fmt.Errorf("error saving to keyring: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s to system keyring\n", keyName)
	return nil
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
