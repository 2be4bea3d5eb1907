package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/neboloop/duocode/internal/config"
)

func newDoctorCommand() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that tmux and both configured backend binaries are on PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(configPath, envPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "duocode.yaml", "path to the session config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to a .env file (optional)")
	return cmd
}

func runDoctor(configPath, envPath string) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("doctor: %w", err)
	}

	ok := true
	check := func(label, bin string) {
		if bin == "" {
			fmt.Printf("SKIP  %-12s (not configured)\n", label)
			return
		}
		if path, err := exec.LookPath(bin); err != nil {
			fmt.Printf("FAIL  %-12s %s not found on PATH\n", label, bin)
			ok = false
		} else {
			fmt.Printf("OK    %-12s %s\n", label, path)
		}
	}

	check("tmux", cfg.TmuxBin)
	check("backend A", cfg.BackendA.Command)
	check("backend B", cfg.BackendB.Command)

	if !ok {
		return fmt.Errorf("doctor: one or more required binaries are missing")
	}
	return nil
}
