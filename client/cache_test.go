package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/drand-watch/client/test/result/mock"
)

func TestCacheEvicts(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		r := mock.NewMockResult(i)
		c.Add(i, &r)
	}
	require.Nil(t, c.TryGet(1))

	expected := mock.NewMockResult(3)
	compareResults(t, &expected, c.TryGet(3))
}

func TestNullCache(t *testing.T) {
	c, err := NewCache(0)
	require.NoError(t, err)

	r := mock.NewMockResult(1)
	c.Add(1, &r)
	require.Nil(t, c.TryGet(1))

	_, err = NewCache(-1)
	require.Error(t, err)
}
