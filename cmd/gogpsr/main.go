// Command gogpsr runs a GPSR routing node and provides a CLI for manual
// smoke-testing against it.
package main

import "github.com/gpsr-go/gogpsr/cmd/gogpsr/commands"

func main() {
	commands.Execute()
}
