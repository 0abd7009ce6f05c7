package util

import (
	"fmt"
)

const USAGE = "Usage: %s FILE [KEYFILE]"

// ParseCommandLineArgs returns the database path and an optional key file path.
func ParseCommandLineArgs(args []string) (path string, keyFile string, err error) {
	switch len(args) {
	case 2:
		return args[1], "", nil
	case 3:
		return args[1], args[2], nil
	}
	name := "kdbxdump"
	if len(args) > 0 {
		name = args[0]
	}
	return "", "", fmt.Errorf(USAGE, name)
}
