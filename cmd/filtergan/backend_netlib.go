//go:build netlib

package main

import (
	"log"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func useBackend(logger *log.Logger) {
	blas32.Use(netlib.Implementation{})
	logger.Println("blas backend: netlib")
}
