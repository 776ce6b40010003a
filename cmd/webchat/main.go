package main

import (
	"github.com/wsxxll/webchat/internal/cli"
	"github.com/wsxxll/webchat/internal/logging"
)

func main() {
	logging.Init()
	cli.Execute()
}
