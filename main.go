// The main package for the agora executable.
package main

import (
	"github.com/agoralabs/agora-crawler/cmd"
)

func main() {
	cmd.Execute()
}
