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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/sqgate/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sqgate",
	Short: "sqgate - Federated standing query gateway",
	Long: heredoc.Doc(`
		sqgate runs federated searches across a set of record sources and keeps
		standing queries alive: each one is re-run on an interval and new matches
		are buffered behind an opaque handle until the client drains them.

		Run "sqgate serve" to start the gateway. The remaining commands talk to a
		running gateway over gRPC.
	`),
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SQGATE_DATA_DIR/sqgate.yaml)")

	// Server flags
	rootCmd.PersistentFlags().Int("port", 60061, "gRPC server port")
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "gRPC server host")
	rootCmd.PersistentFlags().Int("http-port", 5016, "HTTP health/metrics/SSE port (0=disabled)")
	rootCmd.PersistentFlags().Bool("reflection", true, "enable gRPC reflection")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file path (default: stdout/stderr)")

	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	_ = viper.BindPFlag("server.enable_reflection", rootCmd.PersistentFlags().Lookup("reflection"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
