// Package main runs a standalone OpenID Connect provider.
package main

import (
	"os"

	"github.com/giantswarm/oidc-provider/cmd/oidc-provider/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
