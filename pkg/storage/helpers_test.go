package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBurnHashMatchesPasswordCost(t *testing.T) {
	saved := PasswordCost
	t.Cleanup(func() { PasswordCost = saved })

	for _, cost := range []int{bcrypt.MinCost, bcrypt.MinCost + 1} {
		PasswordCost = cost

		BurnPasswordCheck("whatever")
		got, err := bcrypt.Cost(burnHash())
		require.NoError(t, err)
		assert.Equal(t, cost, got)

		hashed, err := HashPassword("secret")
		require.NoError(t, err)
		realCost, err := bcrypt.Cost([]byte(hashed))
		require.NoError(t, err)
		assert.Equal(t, realCost, got, "unknown users must cost as much as a wrong password")
	}
}

func TestBurnHashCached(t *testing.T) {
	saved := PasswordCost
	t.Cleanup(func() { PasswordCost = saved })
	PasswordCost = bcrypt.MinCost

	first := burnHash()
	assert.Equal(t, first, burnHash())
}

func TestCheckPassword(t *testing.T) {
	saved := PasswordCost
	t.Cleanup(func() { PasswordCost = saved })
	PasswordCost = bcrypt.MinCost

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
