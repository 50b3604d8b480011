package main

import "github.com/oshokin/gitrs-bundler/cmd/gitrs-bundler/cmd"

func main() {
	cmd.Execute()
}
