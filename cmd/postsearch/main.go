// Command postsearch is the entry point for the blog post search service.
// It provides a CLI interface (via Cobra) for serving the HTTP API, syncing
// the posts directory into the store, and pushing posts to a remote instance.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/postsearch-go/cmd/postsearch/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
