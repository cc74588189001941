package main

import "github.com/insightops/sitewatch/cmd"

func main() {
	cmd.Execute()
}
