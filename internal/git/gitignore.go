package git

import (
	"fmt"
	"os"
	"path/filepath"
)

// tapGitignore is written into newly scaffolded taps.
const tapGitignore = `# keg tap
# Formula/ is the only directory keg reads.

.DS_Store
*.swp
*.tmp
/cache/
`

// WriteGitignore writes the tap .gitignore to path, creating parent
// directories as needed.
func WriteGitignore(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(tapGitignore), 0o644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	return nil
}
