package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const DefaultBackendURL = "http://localhost:8080"

// Matches sequences of alphanumeric characters separated by a single dash,
// which is what GCP accepts as a project id.
var projectRegexp = regexp.MustCompile(`^[A-Za-z0-9]+(?:-[A-Za-z0-9]+)*$`)

// Config locates the policies endpoint of the backend.
type Config struct {
	// BackendURL is the scheme and host of the backend, e.g. http://localhost:8080.
	BackendURL string
	// Project is the project id whose policies are listed.
	Project string
	// RequireFingerprint rejects lists where a policy lacks a fingerprint
	// or where fingerprints repeat.
	RequireFingerprint bool
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidBackendURL, c.BackendURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidBackendURL, c.BackendURL)
	}
	if !projectRegexp.MatchString(c.Project) {
		return fmt.Errorf("%w: %q", ErrInvalidProject, c.Project)
	}
	return nil
}

// PoliciesURL returns <backend>/projects/<project>/policies.
func (c Config) PoliciesURL() string {
	return strings.TrimRight(c.BackendURL, "/") + "/projects/" + url.PathEscape(c.Project) + "/policies"
}
