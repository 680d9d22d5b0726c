package main

import (
	"github.com/dbmetrics-agent/cmd/agent"
)

func main() {
	agent.Execute()
}
