package util

import (
	"os"
)

// Check if a file exists and is readable etc
// returns false if not
func CheckFileExists(fpath string) bool {
	_, e := os.Stat(fpath)
	return e == nil
}

// CheckFilesExist reports the first of paths that does not exist, or "" when
// all of them do.
func CheckFilesExist(paths ...string) string {
	for _, p := range paths {
		if !CheckFileExists(p) {
			return p
		}
	}
	return ""
}
