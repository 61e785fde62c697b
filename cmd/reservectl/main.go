package main

import "github.com/hackgods/venue-reservations/internal/cli"

func main() {
	cli.Execute()
}
