// Package main is the entry point for the demo database bootstrapper.
//
// @title          Demo Bootstrapper API
// @version        1.0
// @description    Status API for the demo database bootstrapper: health, readiness and on-demand ensure runs.
// @host           localhost:8082
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
