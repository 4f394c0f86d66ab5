package command

import "al.essio.dev/pkg/shellescape"

// Quote single-quotes s for a POSIX shell when it holds anything besides
// word characters and @%+=:,./-.
func Quote(s string) string {
	return shellescape.Quote(s)
}
