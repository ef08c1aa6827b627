package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/config"
)

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, hashPassword(strings.NewReader("secret\n"), &out))
	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))

	assert.Error(t, hashPassword(strings.NewReader("\n"), &out))
}

func TestUserPathName(t *testing.T) {
	for _, username := range []string{"", ".", "..", "a/b", `a\b`, "../etc"} {
		_, err := userPathName(username)
		assert.Error(t, err, username)
	}
	name, err := userPathName("alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", name)
}

func TestStoreFactory(t *testing.T) {
	ctx := context.Background()
	for _, typ := range []string{config.BackendMemory, config.BackendSQLite, config.BackendMaildir} {
		t.Run(typ, func(t *testing.T) {
			factory := storeFactory(config.Backend{Type: typ, Path: t.TempDir()})
			store, err := factory(ctx, "alice")
			require.NoError(t, err)
			if closer, ok := store.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			infos, err := store.ListMailboxes(ctx)
			require.NoError(t, err)
			var names []string
			for _, info := range infos {
				names = append(names, info.Name)
			}
			assert.Contains(t, names, imap.InboxName)

			if typ != config.BackendMemory {
				_, err = factory(ctx, "../bob")
				assert.Error(t, err)
			}
		})
	}
}
