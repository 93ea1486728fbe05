package main

import (
	"fmt"
	"os"

	"grainpay/services/payoutd"
)

func main() {
	if err := payoutd.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "payoutd: %v\n", err)
		os.Exit(1)
	}
}
