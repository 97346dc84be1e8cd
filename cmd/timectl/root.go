package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/timecontrol/config"
	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/internal/logger"
	"github.com/liamcoop/timecontrol/nodemanager"
	"github.com/liamcoop/timecontrol/scheduler"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "timectl",
		Short:        "Inspect and evaluate time control node definitions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(slog.LevelDebug)
			} else {
				logger.SetLevel(slog.LevelWarn)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log evaluation details")

	root.AddCommand(newEvaluateCmd(), newValidateCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a node definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.LoadNodeFile(file)
			if err != nil {
				return err
			}
			if err := nodemanager.ValidateConfig(n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %s is valid (%d rules)\n", n.ID, len(n.Rules))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Node definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var (
		file     string
		at       string
		topic    string
		msgPairs []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a node definition file at an instant",
		Example: `  timectl evaluate --file living.yaml --at 2024-06-01T10:01:00+02:00
  timectl evaluate -f living.yaml --msg brightness=1200 --msg mode=away`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.LoadNodeFile(file)
			if err != nil {
				return err
			}

			now := time.Now()
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			msg, err := parseMsg(msgPairs)
			if err != nil {
				return err
			}

			deps := controller.NewDeps(nil)
			deps.Clock = scheduler.NewFakeClock(now)
			c, err := controller.New(controller.Config{NodeID: n.ID, Settings: n.Settings, Rules: n.Rules}, deps)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			res, err := c.Evaluate(context.Background(), controller.Event{Topic: topic, Msg: msg}, now)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Node definition file (YAML or JSON)")
	cmd.Flags().StringVar(&at, "at", "", "Evaluation instant, RFC 3339 (default now)")
	cmd.Flags().StringVar(&topic, "topic", "", "Message topic")
	cmd.Flags().StringArrayVar(&msgPairs, "msg", nil, "Message property as key=value, repeatable")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// parseMsg turns key=value pairs into message properties. Values that parse as
// numbers or booleans are typed; everything else stays a string.
func parseMsg(pairs []string) (map[string]any, error) {
	msg := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --msg %q, want key=value", p)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			msg[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			msg[k] = b
		} else {
			msg[k] = v
		}
	}
	return msg, nil
}
