// run-uploader uploads sequencing runs to a sample management service.
package main

import (
	"fmt"
	"os"

	"github.com/seqlab/run-uploader/internal/cli"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch uploaderr.KindOf(err) {
	case uploaderr.KindAuth:
		return 3
	case uploaderr.KindRunLocked:
		return 4
	case "":
		return 1
	}
	return 2
}
