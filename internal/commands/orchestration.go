// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newStartCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <flow-id>",
		Short: "Build and store a flow's execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodPost, "/orchestration/start/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <flow-id>",
		Short: "Stop a flow: remove its plan and any schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodPost, "/orchestration/stop/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <flow-id>",
		Short: "Show a flow's orchestration status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodGet, "/orchestration/status/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}
}

func newSchedulerCommand(opts *rootOptions) *cobra.Command {
	scheduler := &cobra.Command{
		Use:   "scheduler",
		Short: "Manage cron schedules",
	}

	var cronExpression string
	start := &cobra.Command{
		Use:   "start <flow-id>",
		Short: "Create a cron schedule for a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodPost,
				"/orchestration/scheduler/start/"+args[0],
				map[string]string{"cronExpression": cronExpression})
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}
	start.Flags().StringVar(&cronExpression, "cron", "", "Cron expression (6-field, seconds first)")
	_ = start.MarkFlagRequired("cron")

	stop := &cobra.Command{
		Use:   "stop <flow-id>",
		Short: "Remove a flow's cron schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodPost,
				"/orchestration/scheduler/stop/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}

	scheduler.AddCommand(start, stop)
	return scheduler
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect processor health",
	}

	processor := &cobra.Command{
		Use:   "processor <processor-id>",
		Short: "Show one processor's health snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodGet,
				"/orchestration/processor-health/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}

	flow := &cobra.Command{
		Use:   "flow <flow-id>",
		Short: "Aggregate health over a flow's processors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(opts.server)
			if err != nil {
				return err
			}
			body, err := client.call(cmd.Context(), http.MethodGet,
				"/orchestration/processors-health/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, opts, body)
		},
	}

	healthCmd.AddCommand(processor, flow)
	return healthCmd
}
