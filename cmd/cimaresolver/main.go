package main

import (
	"github.com/alvarorichard/cimaresolver/internal/cmd"
	"github.com/alvarorichard/cimaresolver/internal/version"
)

func main() {
	if version.HasVersionArg() {
		version.ShowVersion()
		return
	}
	cmd.Execute()
}
