package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	execGateway string
	execParams  string
	execTarget  string
	execTimeout time.Duration
)

var execCmd = &cobra.Command{
	Use:   "exec [operation]",
	Short: "Execute an operation on a running gateway",
	Example: `  twinctl exec rotate --params '{"direction":"right","angle":90}'
  twinctl exec focus --target area_2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"operation": args[0]}
		if execTarget != "" {
			body["target"] = execTarget
		}
		if execParams != "" {
			var params map[string]any
			if err := json.Unmarshal([]byte(execParams), &params); err != nil {
				return fmt.Errorf("invalid --params: %w", err)
			}
			body["parameters"] = params
		}
		return post(cmd, "/api/execute", body)
	},
}

var sayCmd = &cobra.Command{
	Use:   "say [instruction...]",
	Short: "Send a plain-language instruction to a running gateway",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return post(cmd, "/api/llm/process", map[string]any{"message": strings.Join(args, " ")})
	},
}

func init() {
	for _, c := range []*cobra.Command{execCmd, sayCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&execGateway, "gateway", envStr("TWINCTL_URL", "http://127.0.0.1:18789"), "Gateway base URL")
		c.Flags().DurationVar(&execTimeout, "timeout", 15*time.Second, "Request timeout")
	}
	execCmd.Flags().StringVar(&execParams, "params", "", "Operation parameters as a JSON object")
	execCmd.Flags().StringVar(&execTarget, "target", "", "Command target")
}

func post(cmd *cobra.Command, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: execTimeout}
	resp, err := client.Post(strings.TrimRight(execGateway, "/")+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(out)))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
