// The main package for the jobcrawler executable.
package main

import (
	"github.com/JakeFAU/actuary-jobs-crawler/cmd"
)

func main() {
	cmd.Execute()
}
