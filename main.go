package main

import "github.com/trobanga/geochain/cmd"

func main() {
	cmd.Execute()
}
