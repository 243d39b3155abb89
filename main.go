package main

import "github.com/kyoushi/dataset/cmd"

func main() {
	cmd.Execute()
}
