package mode

import (
	"context"
	"os"
	"strings"
)

// Mode is the per-invocation answer to "call the real generative backend or
// simulate locally". A missing credential is not an error; it deterministically
// selects demo mode.
type Mode struct {
	Live       bool
	Credential string
}

type Resolver interface {
	Resolve(ctx context.Context) (Mode, error)
}

// EnvResolver resolves the mode from a credential environment variable,
// consulted fresh on every invocation so credential changes take effect
// without a restart. ForceDemo pins demo mode regardless of any stored
// credential.
type EnvResolver struct {
	CredentialEnv string
	ForceDemo     bool
}

func (r EnvResolver) Resolve(_ context.Context) (Mode, error) {
	if r.ForceDemo {
		return Mode{}, nil
	}

	key := r.CredentialEnv
	if key == "" {
		key = "GEMINI_API_KEY"
	}

	credential := strings.TrimSpace(os.Getenv(key))
	if credential == "" {
		return Mode{}, nil
	}
	return Mode{Live: true, Credential: credential}, nil
}

// Static is a fixed-answer resolver, used by tests and by deployments that
// pin a mode in config.
type Static struct {
	Mode Mode
}

func (s Static) Resolve(_ context.Context) (Mode, error) {
	return s.Mode, nil
}
