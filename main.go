package main

import "github.com/chukul/cloudsign/cmd"

func main() {
	cmd.Execute()
}
