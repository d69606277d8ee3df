package main

import "github.com/MeKo-Tech/emeter/cmd/emeter/cmd"

func main() {
	cmd.Execute()
}
