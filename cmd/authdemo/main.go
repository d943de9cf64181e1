// Command authdemo runs the session-aware auth service on a local HTTP port.
package main

import (
	"github.com/patric-chuzhbe/sessionauth/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		panic(err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		panic(err)
	}
}
