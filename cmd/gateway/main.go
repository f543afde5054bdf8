package main

import "github.com/meetupplanner/gateway/cmd/gateway/cmd"

func main() {
	cmd.Execute()
}
