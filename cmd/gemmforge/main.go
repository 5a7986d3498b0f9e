// Command gemmforge is a small demo/debugging CLI around pkg/gemm, exposing
// the validity oracle, the kernel emitter, and an end-to-end Host run from
// the shell. The engine itself is a library; nothing here is required to
// use it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
