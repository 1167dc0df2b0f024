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
	"sort"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/sqgate/pkg/sources"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the sources standing and one-shot queries search",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the gateway's query sources",
	Long:  `List the sources new searches are sent to. An empty list means the local catalog only.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callGateway(cmd, "QuerySources", nil)
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <source-id>",
	Short: "Add a registered source to the query sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callGateway(cmd, "AddQuerySource", map[string]any{"source": args[0]})
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Remove a source from the query sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callGateway(cmd, "RemoveQuerySource", map[string]any{"source": args[0]})
	},
}

var sourcesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a sources file",
	Long: heredoc.Doc(`
		Check a sources file against the sources schema without starting the
		gateway. Defaults to the configured sources file.
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: runSourcesValidate,
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesRemoveCmd, sourcesValidateCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runSourcesValidate(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		path = config.Federation.SourcesFile
	}

	file, _, err := sources.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid (%d sources)\n", path, len(file.Sources))
	ids := make([]string, 0, len(file.Sources))
	types := make(map[string]string, len(file.Sources))
	for _, def := range file.Sources {
		ids = append(ids, def.ID)
		types[def.ID] = def.Type
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  - %s (%s)\n", id, types[id])
	}
	warnMissingSecrets(cmd, file)
	return nil
}

// warnMissingSecrets reports DSN secrets that are not in the keyring.
func warnMissingSecrets(cmd *cobra.Command, file *sources.File) {
	for _, def := range file.Sources {
		if def.DSN != "" || def.DSNSecret == "" {
			continue
		}
		if _, err := GetSecret(def.DSNSecret); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: source %s: secret %q not found in keyring\n", def.ID, def.DSNSecret)
		}
	}
}
