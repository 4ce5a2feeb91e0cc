package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
)

// SimCmd runs the cli against the simulated sensor, which needs no hardware.
func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run shtmon watch on the simulated link",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return fmt.Errorf("could not get count flag: %w", err)
			}
			broker, err := cmd.Flags().GetString("mqtt")
			if err != nil {
				return fmt.Errorf("could not get mqtt flag: %w", err)
			}
			runArgs := []string{"run", "./cmd/shtmon", "--link", "sim", "watch", "--count", strconv.Itoa(count)}
			if broker != "" {
				runArgs = append(runArgs, "--mqtt", broker)
			}
			slog.Info("running simulated monitor", "args", runArgs)
			run := exec.CommandContext(cmd.Context(), "go", runArgs...)
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			if err := run.Run(); err != nil {
				return fmt.Errorf("simulated run failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 5, "number of samples to take")
	cmd.Flags().String("mqtt", "", "broker url to publish the samples to")
	return cmd
}
