package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCommandRequiresToken(t *testing.T) {
	clearEnv(t)
	originalToken := cfg.Discord.Token
	t.Cleanup(
		func() {
			cfg.Discord.Token = originalToken
		},
	)

	rootCmd.SetArgs([]string{"run"})
	err := rootCmd.Execute()
	assert.ErrorIs(t, err, errMissingToken)
}
