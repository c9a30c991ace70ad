package main

import "github.com/KilnWorks/datascope-cli/cmd"

func main() {
	cmd.Execute()
}
