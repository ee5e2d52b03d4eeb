package main

import "clavero/cmd/internal/app"

func main() {
	app.Run()
}
