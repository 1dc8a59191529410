// Command util bundles operator tooling for inspecting a member's
// persisted pipeline state.
package main

import (
	"github.com/umbra-net/umbra-go/cmd/util/cmd"
)

func main() {
	cmd.Execute()
}
