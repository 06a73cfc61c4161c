package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "embedd",
	Short: "embedd - embedding and reranking inference server",
	Long: `embedd serves batch text-embedding and passage-reranking RPCs over
gRPC, backed by a local inference engine. Models are pre-downloaded into a
local cache before the server accepts traffic.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
