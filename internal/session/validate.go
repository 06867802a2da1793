package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.pigeon/sessions, so
// they are restricted to a filesystem-safe lowercase alphabet.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a pigeon session name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
