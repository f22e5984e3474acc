// Command jobq is the operator CLI for the job queue: cancelling, tidying,
// purging, dumping, importing, and requeueing job records against whichever
// backend JOBQ_BACKEND points at.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
