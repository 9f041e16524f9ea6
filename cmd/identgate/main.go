package main

import "github.com/Ident-Gate/Identgate/cmd/identgate/cmd"

func main() {
	cmd.Execute()
}
