package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Tree(t *testing.T) {
	root := rootCommand()

	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"migrate"},
		{"sweep"},
		{"order", "new"},
		{"order", "pay"},
		{"order", "cancel"},
		{"order", "revoke-cancel"},
		{"order", "renew"},
		{"order", "reissue"},
		{"order", "revoke"},
		{"order", "sync"},
		{"order", "dcv"},
		{"order", "show"},
		{"delegation", "bind"},
		{"delegation", "check"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	_, err := execute(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestOrderRejectsBadID(t *testing.T) {
	tests := []string{"abc", "0", "-3"}
	for _, arg := range tests {
		t.Run(arg, func(t *testing.T) {
			_, err := execute(t, "--memory", "order", "pay", "--", arg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid order id")
		})
	}
}

func TestDelegationBindRequiresFlags(t *testing.T) {
	_, err := execute(t, "--memory", "delegation", "bind", "--user", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain")
}

func TestOrderID(t *testing.T) {
	id, err := orderID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
