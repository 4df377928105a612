// Command personatwin runs the persona voice service and its terminal client.
//
// Usage:
//
//	personatwin serve                 run the HTTP and WebSocket service
//	personatwin converse [flags]      talk to the persona from the terminal
//	personatwin search <query>        query the knowledge base directly
//	personatwin version               print the build version
//
// Configuration is read from the environment; see internal/config.
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
