package filter

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterAddContains(t *testing.T) {
	f := New(1000, 0.01)
	require.NotNil(t, f)

	for i := 0; i < 10; i++ {
		f.Add(sha256.Sum256([]byte(fmt.Sprintf("name-%d", i))))
	}

	for i := 0; i < 10; i++ {
		require.True(t, f.Contains(sha256.Sum256([]byte(fmt.Sprintf("name-%d", i)))))
	}

	require.False(t, f.Contains(sha256.Sum256([]byte("never added"))))
}

func TestFilterEmptyIsDefinitelyNegative(t *testing.T) {
	f := New(1000, 0.01)
	require.NotNil(t, f)
	require.False(t, f.Contains(sha256.Sum256([]byte("anything"))))
}

func TestFilterRejectsBadParameters(t *testing.T) {
	require.Nil(t, New(0, 0.01))
	require.Nil(t, New(100, 0))
	require.Nil(t, New(100, 1))
}
