// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tagbus - BLE sensor tag bus simulator and host tools
//
// Runs a simulated tag's sensor and chain bus behind a framed host link,
// and provides the host side commands to configure and monitor it.

package main

import (
	"os"

	"github.com/Thermoquad/tagbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
