package auth

import "strings"

// IsValidUsername checks if username contains only allowed characters
func IsValidUsername(username string) bool {
	if len(username) < 2 || len(username) > 32 {
		return false
	}
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '_' || char == '-' || char == '.') {
			return false
		}
	}
	return true
}

// IsValidDirectory checks that a home directory is a plain path below the
// root: no ".." segments and no control or wildcard characters.
func IsValidDirectory(dir string) bool {
	if dir == "" {
		return false
	}
	for _, seg := range strings.Split(strings.ReplaceAll(dir, "\\", "/"), "/") {
		if seg == ".." {
			return false
		}
	}
	for _, char := range dir {
		if char < 32 || char == '|' || char == '*' || char == '?' || char == '<' || char == '>' {
			return false
		}
	}
	return true
}
