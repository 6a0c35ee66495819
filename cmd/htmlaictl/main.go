// Command htmlaictl runs and inspects the html.ai optimization
// service, grounded on cmd/aleutian's cobra root-command layout.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("htmlaictl: %v", err)
	}
}
