package main

import (
	"os"
	quit "syscall"
)

func main() {
	defer cleanup()
	if len(os.Args) > 2 {
		quit.Exit(3) // want "avoid using syscall.Exit in main.main"
	}
	os.Exit(1) // want "avoid using os.Exit in main.main"
}

func cleanup() {
	os.Exit(0)
}
