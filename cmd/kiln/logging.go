package main

import (
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// newLogger returns a logger writing through the standard log package.
// verbose raises the level to 1, which shows every host command.
func newLogger(verbose bool) logr.Logger {
	level := 0
	if verbose {
		level = 1
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			log.Printf("%s: %s", prefix, args)
			return
		}
		log.Print(args)
	}, funcr.Options{Verbosity: level})
}
