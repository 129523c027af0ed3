// mcptap - a debugging proxy and context-cost analyzer for MCP servers.
package main

import "github.com/mcptap/mcptap/pkg/cli"

func main() {
	cli.Execute()
}
