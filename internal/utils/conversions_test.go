package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, utils.ToStringSlice([]any{"a", 1, "b", nil}))
	require.Empty(t, utils.ToStringSlice(nil))
}

func TestSortedSet(t *testing.T) {
	got := utils.SortedSet([]string{"USER", "ADMIN"}, []string{"ADMIN", "", "offline_access"})
	require.Equal(t, []string{"ADMIN", "USER", "offline_access"}, got)
}

func TestPtrCopies(t *testing.T) {
	v := 5
	p := utils.Ptr(v)
	v = 6
	require.Equal(t, 5, *p)
}
