package shell

// Environment variables exported by shellenv.
const (
	// EnvRoot is the keg root directory.
	EnvRoot = "KEG_ROOT"
)

// Activation and backup markers
const (
	// ActivationMarker is the string that must appear in activation commands
	ActivationMarker = "keg shellenv"

	// BackupSuffix is appended to backed-up rc files
	BackupSuffix = ".keg-backup"

	// sectionComment precedes the activation line in rc files
	sectionComment = "# keg - formula installer"
)
