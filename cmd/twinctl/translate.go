package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rvald/twinctl/internal/translate"
	"github.com/spf13/cobra"
)

var translateAngle float64

var translateCmd = &cobra.Command{
	Use:   "translate [instruction...]",
	Short: "Show the command an instruction translates to",
	Example: `  twinctl translate rotate left 90 degrees
  twinctl translate 放大`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		action, params := translate.New(translate.WithDefaultAngle(translateAngle)).Translate(text)
		if action == "" {
			return fmt.Errorf("could not understand %q", text)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"operation": action, "params": params})
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)
	translateCmd.Flags().Float64Var(&translateAngle, "angle", 30, "Angle used when the instruction names none")
}
