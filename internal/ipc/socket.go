package ipc

import (
	"errors"
	"os"
)

// removeStaleSocket deletes a leftover socket file from a previous,
// uncleanly-terminated session so Listen can rebind the path.
func removeStaleSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
