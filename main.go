package main

import "labinsight/internal/app"

func main() {
	app.Main()
}
