/*
	Copyright 2023 Markus Papenbrock
*/

package main

import "github.com/mpapenbr/lapsim-service-go/cmd"

func main() {
	cmd.Execute()
}
