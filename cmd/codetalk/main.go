// Command codetalk runs the chat server.
package main

import (
	"os"

	"codetalk/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
