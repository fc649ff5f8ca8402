package cmd

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/seedbuddy/crmseed/internal/soql"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and pipeline limits",
	Long: `Display build information plus the bulk-operation limits the seeding
pipeline runs under (the IN-clause chunk size, which also bounds every
batched insert/upsert/update).`,
	Run: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	cmd.Printf("crmseed version %s\n", Version)
	cmd.Printf("  Commit: %s\n", Commit)
	cmd.Printf("  Go version: %s\n", runtime.Version())
	cmd.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	cmd.Printf("  SOQL chunk / bulk batch size: %d\n", soql.ChunkSize)
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		cmd.Printf("  Module version: %s\n", info.Main.Version)
	}
}
