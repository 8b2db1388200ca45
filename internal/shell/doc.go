// Package shell puts keg's bin directory on the user's PATH.
//
// `keg shellenv [shell]` prints a script for bash, zsh or fish that exports
// KEG_ROOT and prepends <root>/bin to PATH. Users activate it from their rc
// file:
//
//	# bash, zsh
//	eval "$(keg shellenv bash)"
//
//	# fish
//	keg shellenv fish | source
//
// `keg shellenv --install` appends that line to the detected shell's rc
// file (~/.bashrc, ~/.zshrc or ~/.config/fish/config.fish). The edit is
// idempotent, optionally backed up, written via temp file and rename, and
// refused for symlinked rc files.
//
// Shell detection tries $SHELL first and then the parent process name.
package shell
