package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/internal/models"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddPaginationFlags(fs)
	fs.String("status", "", "")
	fs.String("kind", "", "")
	fs.String("query", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 20, Offset: 0}, p)

	p, err = ParsePagination(newFlags(t, "--limit=5", "--offset=-3"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 5, Offset: 0}, p)
}

func TestParseJobFilter(t *testing.T) {
	f, err := ParseJobFilter(newFlags(t, "--status=Completed", "--kind=conversion", "--query", " memo "))
	require.NoError(t, err)
	assert.Equal(t, JobFilter{Status: models.JobStatusCompleted, Kind: models.JobKindConversion, Query: "memo"}, f)

	_, err = ParseJobFilter(newFlags(t, "--status=done"))
	assert.Error(t, err)
	_, err = ParseJobFilter(newFlags(t, "--kind=video"))
	assert.Error(t, err)
}
