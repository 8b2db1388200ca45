package shell

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Env renders the script printed by `keg shellenv`: it exports KEG_ROOT and
// puts <root>/bin first on PATH unless it is already there.
func Env(shell ShellType, root string) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	bin := filepath.Join(root, "bin")

	var b strings.Builder
	switch shell {
	case ShellBash, ShellZsh:
		fmt.Fprintf(&b, "export %s=%s;\n", EnvRoot, quotePOSIX(root))
		fmt.Fprintf(&b, "case \":${PATH}:\" in *:%s:*) ;; *) export PATH=%s\"${PATH:+:${PATH}}\" ;; esac;\n",
			quotePOSIX(bin), quotePOSIX(bin))
	case ShellFish:
		fmt.Fprintf(&b, "set -gx %s %s;\n", EnvRoot, quoteFish(root))
		fmt.Fprintf(&b, "contains -- %s $PATH; or set -gx PATH %s $PATH;\n", quoteFish(bin), quoteFish(bin))
	}
	return b.String(), nil
}

// GenerateActivationCommand returns the line users add to their rc file.
func GenerateActivationCommand(shell ShellType) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}

	switch shell {
	case ShellFish:
		return fmt.Sprintf("%s %s | source", ActivationMarker, shell), nil
	default:
		return fmt.Sprintf(`eval "$(%s %s)"`, ActivationMarker, shell), nil
	}
}

// ValidateActivationCommand accepts only commands produced by
// GenerateActivationCommand.
func ValidateActivationCommand(cmd string) error {
	for _, s := range GetSupportedShells() {
		if want, _ := GenerateActivationCommand(s); cmd == want {
			return nil
		}
	}
	return fmt.Errorf("invalid activation command format: %q", cmd)
}

func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteFish(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
