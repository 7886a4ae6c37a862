package main

import (
	"os"
)

// main 是仿真器的主入口
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
