package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Opener launches a URL for the user. Tests substitute a recorder.
type Opener func(url string) error

// OpenBrowser opens url in the default web browser on Linux, macOS and
// Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	// Reap the child so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return nil
}
