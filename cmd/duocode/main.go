// Command duocode starts a tmux-mediated debate session between two CLI
// assistants, or preflight-checks the binaries it depends on.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "duocode",
		Short: "Orchestrate a tag-routed debate between two CLI coding assistants over tmux",
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newDoctorCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
