// The main package for the collector executable.
package main

import "github.com/contentcollector/collector/cmd"

func main() {
	cmd.Execute()
}
