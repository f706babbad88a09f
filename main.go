// The main package for the siteindexer executable.
package main

import (
	"github.com/JakeFAU/site-indexer/cmd"
)

func main() {
	cmd.Execute()
}
