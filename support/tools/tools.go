//go:build tools
// +build tools

// Package tools pins the linters run over the module, including the map range check
// that the `nolint:nomaprange` annotations refer to.
package tools

import (
	_ "github.com/Kubuxu/go-no-map-range/nomaprange"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
