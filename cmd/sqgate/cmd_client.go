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
	"context"
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/server"
)

var (
	serverAddr  string
	clientUser  string
	callTimeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:60061", "gateway address for client commands")
	rootCmd.PersistentFlags().StringVar(&clientUser, "user", "", "user id sent as x-user-id")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 30*time.Second, "client call timeout")

	rootCmd.AddCommand(
		newSubmitCmd(),
		newQueryCmd(),
		handleCommand("complete", "Fetch the next page of a one-shot query", "Complete"),
		newDrainCmd(),
		handleCommand("status", "Show the state of a standing query", "GetStatus"),
		handleCommand("describe", "Describe a standing query", "Describe"),
		handleCommand("pause", "Stop buffering results for a standing query", "Pause"),
		handleCommand("resume", "Resume buffering results for a standing query", "Resume"),
		handleCommand("run", "Poll a standing query now", "RunNow"),
		handleCommand("subscribe", "Create the result event stream of a standing query", "Subscribe"),
		handleCommand("cancel", "Cancel a query and release its handle", "Cancel"),
		newClearCmd(),
		newActiveCmd(),
		newHistoryCmd(),
	)
}

// callGateway dials the gateway, invokes method and prints the response as JSON.
func callGateway(cmd *cobra.Command, method string, fields map[string]any) error {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	out, err := server.NewClient(conn, clientUser).Call(ctx, method, fields)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return printStruct(cmd, out)
}

func printStruct(cmd *cobra.Command, s *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// handleCommand builds a command whose only argument is a handle.
func handleCommand(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <handle>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callGateway(cmd, method, map[string]any{"handle": args[0]})
		},
	}
}

type queryFlags struct {
	view       string
	expression string
	hitCap     int
	attributes []string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.view, "view", "", "view to search (required)")
	cmd.Flags().StringVar(&q.expression, "expression", "", "filter expression")
	cmd.Flags().IntVar(&q.hitCap, "hit-cap", -1, "records returned per drain (-1=unbounded)")
	cmd.Flags().StringSliceVar(&q.attributes, "attr", nil, "result attributes to return (default: all)")
	_ = cmd.MarkFlagRequired("view")
}

func (q *queryFlags) fields() map[string]any {
	fields := map[string]any{
		"view":       q.view,
		"expression": q.expression,
	}
	if q.hitCap >= 0 {
		fields["hit_cap"] = q.hitCap
	}
	if len(q.attributes) > 0 {
		fields["result_attributes"] = toAnySlice(q.attributes)
	}
	return fields
}

func newSubmitCmd() *cobra.Command {
	var (
		q          queryFlags
		startAfter time.Duration
		runFor     time.Duration
		properties map[string]string
		subscribe  bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a standing query",
		Long: heredoc.Doc(`
			Submit a standing query. The gateway polls it on its interval and buffers
			new matches until they are drained. The returned handle identifies the
			query in every other command.
		`),
		Example: heredoc.Doc(`
			sqgate submit --view tracks --expression 'callsign=AB12' --run-for 2h
			sqgate submit --view tracks --hit-cap 100 --subscribe
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := q.fields()
			if startAfter > 0 {
				fields["start_after"] = startAfter.String()
			}
			if runFor > 0 {
				fields["run_for"] = runFor.String()
			}
			if len(properties) > 0 {
				props := make(map[string]any, len(properties))
				for k, v := range properties {
					props[k] = v
				}
				fields["properties"] = props
			}
			if subscribe {
				fields["subscribe"] = true
			}
			return callGateway(cmd, "SubmitStandingQuery", fields)
		},
	}
	q.register(cmd)
	cmd.Flags().DurationVar(&startAfter, "start-after", 0, "delay before the first poll")
	cmd.Flags().DurationVar(&runFor, "run-for", 0, "how long the query stays active (0=until canceled)")
	cmd.Flags().StringToStringVar(&properties, "prop", nil, "query properties (key=value)")
	cmd.Flags().BoolVar(&subscribe, "subscribe", false, "create a result event stream")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Submit a one-shot query",
		Long: heredoc.Doc(`
			Submit a one-shot query. Nothing is searched until "sqgate complete" is
			called with the returned handle; each call returns the next page.
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callGateway(cmd, "SubmitQuery", q.fields())
		},
	}
	q.register(cmd)
	return cmd
}

func newDrainCmd() *cobra.Command {
	var maxRecords int
	cmd := &cobra.Command{
		Use:   "drain <handle>",
		Short: "Remove and print buffered results of a standing query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callGateway(cmd, "Drain", map[string]any{"handle": args[0], "max": maxRecords})
		},
	}
	cmd.Flags().IntVar(&maxRecords, "max", 100, "maximum records to drain")
	return cmd
}

func newClearCmd() *cobra.Command {
	var (
		oldest    int
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "clear <handle>",
		Short: "Discard buffered results of a standing query",
		Long: heredoc.Doc(`
			Discard buffered results. Without flags every buffered interval is cleared.
			--oldest clears that many of the oldest intervals, --older-than clears
			intervals older than the given age.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := args[0]
			switch {
			case oldest > 0 && olderThan > 0:
				return fmt.Errorf("--oldest and --older-than are mutually exclusive")
			case oldest > 0:
				return callGateway(cmd, "ClearOldestIntervals", map[string]any{"handle": handle, "count": oldest})
			case olderThan > 0:
				return callGateway(cmd, "ClearOlderThan", map[string]any{"handle": handle, "max_age": olderThan.String()})
			default:
				return callGateway(cmd, "ClearAll", map[string]any{"handle": handle})
			}
		},
	}
	cmd.Flags().IntVar(&oldest, "oldest", 0, "number of oldest intervals to clear")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "clear intervals older than this age")
	return cmd
}

func newActiveCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List active handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callGateway(cmd, "ActiveRequests", map[string]any{"kind": kind})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (standing, oneshot)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <handle>",
		Short: "Show recent poll cycles of a standing query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callGateway(cmd, "History", map[string]any{"handle": args[0], "limit": limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum executions to show")
	return cmd
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
