//go:build !netlib

package main

import "log"

func useBackend(logger *log.Logger) {
	logger.Println("blas backend: gonum")
}
