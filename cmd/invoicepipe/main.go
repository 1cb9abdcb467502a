// Command invoicepipe runs the invoice extraction daemon and the operator
// commands around it.
package main

import (
	"fmt"
	"os"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(common.ExitCode(err))
	}
}
