package main

import "github.com/kamusis/shoesnap/cmd"

func main() {
	cmd.Execute()
}
