package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Standard AWS environment variable names.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvRegion          = "AWS_REGION"
	EnvDefaultRegion   = "AWS_DEFAULT_REGION"
)

// EnvVars returns the environment representation of c. An absent session
// token maps to "" so that a stale token is not paired with new keys.
func (c *Credentials) EnvVars() map[string]string {
	return map[string]string{
		EnvAccessKeyID:     c.AccessKeyID,
		EnvSecretAccessKey: c.SecretAccessKey,
		EnvSessionToken:    c.SessionToken,
		EnvRegion:          c.Region,
		EnvDefaultRegion:   c.Region,
	}
}

// EnvOption configures ExportEnv.
type EnvOption func(*envOptions)

type envOptions struct {
	force     bool
	overrides map[string]string
}

// WithForce allows ExportEnv to overwrite variables the caller already set.
func WithForce() EnvOption {
	return func(o *envOptions) {
		o.force = true
	}
}

// WithEnvOverride sets name to value instead of the descriptor's value.
// Overridden names are the caller's explicit choice and never conflict.
// An empty value unsets the variable.
func WithEnvOverride(name, value string) EnvOption {
	return func(o *envOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]string)
		}
		o.overrides[name] = value
	}
}

// EnvConflictError lists pre-set variables ExportEnv refused to overwrite.
type EnvConflictError struct {
	Vars []string
}

func (e *EnvConflictError) Error() string {
	return fmt.Sprintf("environment already sets %s; export with force to overwrite", strings.Join(e.Vars, ", "))
}

type envSnapshot struct {
	value string
	set   bool
}

// ExportEnv writes the credentials into the process environment for
// libraries that only read ambient AWS variables. Prefer passing
// Credentials.AWSConfig to clients explicitly.
//
// Without WithForce, nothing is written if any variable is already set to a
// different value; the returned *EnvConflictError names them. The returned
// restore func puts every touched variable back.
//
// ExportEnv mutates process-wide state and is not safe to call from
// concurrent initialization paths without external serialization.
func (c *Credentials) ExportEnv(opts ...EnvOption) (restore func(), err error) {
	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	desired := c.EnvVars()
	for name, value := range o.overrides {
		desired[name] = value
	}

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	if !o.force {
		var conflicts []string
		for _, name := range names {
			if _, overridden := o.overrides[name]; overridden {
				continue
			}
			cur, ok := os.LookupEnv(name)
			if ok && cur != "" && cur != desired[name] {
				conflicts = append(conflicts, name)
			}
		}
		if len(conflicts) > 0 {
			return func() {}, &EnvConflictError{Vars: conflicts}
		}
	}

	prev := make(map[string]envSnapshot, len(names))
	restore = func() {
		for name, s := range prev {
			if s.set {
				os.Setenv(name, s.value)
			} else {
				os.Unsetenv(name)
			}
		}
	}

	for _, name := range names {
		cur, ok := os.LookupEnv(name)
		prev[name] = envSnapshot{value: cur, set: ok}

		value := desired[name]
		if value == "" {
			err = os.Unsetenv(name)
		} else {
			err = os.Setenv(name, value)
		}
		if err != nil {
			restore()
			return func() {}, fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return restore, nil
}
