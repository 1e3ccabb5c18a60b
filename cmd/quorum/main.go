package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "quorum"}

	root.AddCommand(serveCMD(), migrateCMD(), retentionCMD())
	_ = root.Execute()
}
