package main

import "github.com/Kultup/mailbot/internal/cli"

func main() {
	cli.ExecuteAPI()
}
