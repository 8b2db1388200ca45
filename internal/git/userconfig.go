package git

import (
	"os"
)

// DetectUser picks the commit identity for repositories keg creates:
// KEG_GIT_NAME/KEG_GIT_EMAIL, then GIT_AUTHOR_NAME/GIT_AUTHOR_EMAIL, then a
// placeholder. Global git config is not consulted.
func DetectUser() UserInfo {
	if name := os.Getenv("KEG_GIT_NAME"); name != "" {
		email := os.Getenv("KEG_GIT_EMAIL")
		if email == "" {
			email = "keg@localhost"
		}
		return UserInfo{Name: name, Email: email, FromEnv: true}
	}

	if name := os.Getenv("GIT_AUTHOR_NAME"); name != "" {
		email := os.Getenv("GIT_AUTHOR_EMAIL")
		if email == "" {
			email = "git@localhost"
		}
		return UserInfo{Name: name, Email: email, FromEnv: true}
	}

	return UserInfo{Name: "keg", Email: "keg@localhost", IsDefault: true}
}
