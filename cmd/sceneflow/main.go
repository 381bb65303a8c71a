package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCommand().Execute(); err != nil {
		// A canceled context means the user interrupted; the shell already
		// shows that, so stay quiet.
		if errors.Is(err, context.Canceled) {
			return 1
		}
		fmt.Fprintf(os.Stderr, "sceneflow: %v\n", err)
		return 1
	}
	return 0
}
