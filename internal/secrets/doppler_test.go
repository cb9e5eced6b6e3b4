package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mapSource map[string]string

func (m mapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

func TestChainPrefersEarlierSources(t *testing.T) {
	chain := Chain{mapSource{"A": "first"}, nil, mapSource{"A": "second", "B": "b"}}

	assert.Equal(t, "first", Get(chain, "A", "x"))
	assert.Equal(t, "b", Get(chain, "B", "x"))
	assert.Equal(t, "x", Get(chain, "C", "x"))
}

func TestDopplerSourceLookup(t *testing.T) {
	var gotArgs []string
	d := &DopplerSource{
		Project: "agency",
		Config:  "dev",
		Timeout: time.Second,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args
			if args[2] == "MISSING" {
				return nil, errors.New("exit status 1")
			}
			return []byte("sk_test_123\n"), nil
		},
	}

	v, ok := d.Lookup("PAYSTACK_SECRET_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk_test_123", v)
	assert.Equal(t, []string{"secrets", "get", "PAYSTACK_SECRET_KEY", "--project", "agency", "--config", "dev", "--plain"}, gotArgs)

	_, ok = d.Lookup("MISSING")
	assert.False(t, ok)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("SECRETS_TEST_KEY", "value")

	v, ok := EnvSource{}.Lookup("SECRETS_TEST_KEY")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = EnvSource{}.Lookup("SECRETS_TEST_UNSET")
	assert.False(t, ok)
}
