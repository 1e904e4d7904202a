// The main package for the pricecrawler executable.
package main

import (
	"github.com/JakeFAU/pricecompare-crawler/cmd"
)

func main() {
	cmd.Execute()
}
