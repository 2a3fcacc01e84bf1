package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/config"
	"github.com/R3E-Network/runtime-trust-plane/internal/vminstance"
)

func TestResolveDSNPrecedence(t *testing.T) {
	cases := []struct {
		name string
		flag string
		env  string
		cfg  func() *config.Config
		want string
	}{
		{
			name: "flag wins",
			flag: "postgres://flag",
			env:  "postgres://env",
			cfg: func() *config.Config {
				cfg := &config.Config{}
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://flag",
		},
		{
			name: "env when flag missing",
			flag: "",
			env:  "postgres://env",
			cfg: func() *config.Config {
				cfg := &config.Config{}
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://env",
		},
		{
			name: "config dsn when flag/env empty",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				cfg := &config.Config{}
				cfg.Database.DSN = "postgres://cfg"
				return cfg
			},
			want: "postgres://cfg",
		},
		{
			name: "host+name fallback",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				cfg := &config.Config{}
				cfg.Database.Host = "localhost"
				cfg.Database.Name = "controlplane"
				return cfg
			},
			want: "", // unused: the loop below asserts the ConnectionString() fallback is non-empty
		},
		{
			name: "empty when nothing provided",
			flag: "",
			env:  "",
			cfg: func() *config.Config {
				return &config.Config{}
			},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", tc.env)
			cfg := tc.cfg()
			got := resolveDSN(tc.flag, cfg)
			if tc.name == "host+name fallback" {
				assert.NotEmpty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveMasterKeyMissing(t *testing.T) {
	cfg := &config.Config{}
	_, err := resolveMasterKey(cfg)
	require.Error(t, err)
	assert.Equal(t, errMissingMasterKey, err)
}

func TestResolveMasterKeyPresent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.SecretEncryptionKey = "a-32-byte-test-master-key-value"
	key, err := resolveMasterKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte("a-32-byte-test-master-key-value"), key)
}

func TestCronScheduleFromSeconds(t *testing.T) {
	assert.Equal(t, "@daily", cronScheduleFromSeconds(0))
	assert.Equal(t, "@daily", cronScheduleFromSeconds(-5))
	assert.Equal(t, "@every 1m0s", cronScheduleFromSeconds(60))
}

type fakeInstanceStore struct {
	vminstance.Store
	pages [][]vminstance.Instance
	calls int
}

func (f *fakeInstanceStore) ListPage(ctx context.Context, afterID int64, limit int) ([]vminstance.Instance, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func TestInstanceServerListerDedupesAcrossPages(t *testing.T) {
	store := &fakeInstanceStore{
		pages: [][]vminstance.Instance{
			{{ID: 1, ServerID: "srv-a"}, {ID: 2, ServerID: "srv-b"}},
			{{ID: 3, ServerID: "srv-a"}},
		},
	}
	lister := &instanceServerLister{instances: store}

	ids, err := lister.ActiveServerIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-a", "srv-b"}, ids)
}

func TestInstanceServerListerEmpty(t *testing.T) {
	store := &fakeInstanceStore{}
	lister := &instanceServerLister{instances: store}

	ids, err := lister.ActiveServerIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
