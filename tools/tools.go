//go:build tools

// Package tools pins build-time tool dependencies so they show up in
// go.mod and `go mod tidy` doesn't drop them, without any non-test code
// importing them at runtime.
package tools

import (
	_ "github.com/thepudds/fzgo/fuzz"
)
