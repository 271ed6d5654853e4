package util

import (
	"os"
	"path/filepath"
)

// AppDirName is the directory under the user's home holding configuration
// and generated certificates.
const AppDirName = ".securechat"

// UserHome returns the current user's home directory.
// Falls back to $HOME, then USERPROFILE, then the working directory.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if home := os.Getenv("HOME"); home != "" {
			log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
			return home
		}
		if home := os.Getenv("USERPROFILE"); home != "" {
			log.WithError(err).Warn("os.UserHomeDir failed, falling back to USERPROFILE")
			return home
		}
		if wd, wdErr := os.Getwd(); wdErr == nil {
			log.WithError(err).Warn("os.UserHomeDir and $HOME unavailable; falling back to working directory")
			return wd
		}
		panic("securechat: unable to determine home directory; set $HOME environment variable")
	}

	return homeDir
}

// AppDir returns $HOME/.securechat.
func AppDir() string {
	return filepath.Join(UserHome(), AppDirName)
}
