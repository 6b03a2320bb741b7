package main

import "github.com/user/llmgate/cmd"

func main() {
	cmd.Execute()
}
