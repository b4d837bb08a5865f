// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"capture"
	"fmt"
	"os"
)

func main() {
	if err := capture.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
