package cli

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Version returns a `version` command printing the commit the binary of program is built from.
func Version(program string) *cobra.Command {
	program = strings.TrimSpace(program)

	short := "Print version"
	if program != "" {
		short = "Print " + program + " version"
	}

	return &cobra.Command{
		Use:                   "version",
		Short:                 short,
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, _ []string) {
			revision, ts := buildVersion()

			if program == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "version: %s from %s\n", revision, ts)
				return
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s version: %s from %s\n", program, revision, ts)
		},
	}
}

// buildVersion returns the vcs revision and its time. Binaries built from uncommitted
// changes, or without vcs information as with `go run` and `go test`, report @latest and now.
func buildVersion() (string, string) {
	var (
		revision string
		ts       string
		modified bool
	)

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.time":
				ts = setting.Value
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
	}

	if modified || revision == "" {
		return "@latest", time.Now().UTC().Format(time.RFC3339)
	}

	return revision, ts
}
