package main

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/cmd"
)

func main() {
	cmd.Execute()
}
