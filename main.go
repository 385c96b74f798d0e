package main

import (
	"fmt"
	"os"

	"github.com/webitel/media_jobs/cmd"
)

//go:generate go run github.com/google/wire/cmd/wire@latest gen ./cmd
func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
