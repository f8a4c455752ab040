/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/andrewhowdencom/drip/cmd"

func main() {
	cmd.Execute()
}
