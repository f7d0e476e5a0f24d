// Command ppmerge merges JSON-lines partition files into one ordered stream.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
