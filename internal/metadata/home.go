// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package metadata

import "os"

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
