package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyHolderFallsBackToDefaults(t *testing.T) {
	holder, err := NewPolicyHolder(Config{Policies: PolicyConfigSource{Name: "missing-policy", Path: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), holder.Get())
}

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("policy:\n  orderExpiryMinutes: 45\n  defaultCurrency: USD\n  adminFeePercent: 2.5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy-test.yml"), content, 0o600))

	holder, err := NewPolicyHolder(Config{Policies: PolicyConfigSource{Name: "policy-test", Path: dir}})
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, 45, got.OrderExpiryMinutes)
	assert.Equal(t, "USD", got.DefaultCurrency)
	assert.InDelta(t, 2.5, got.AdminFeePercent, 0.0001)
	assert.Equal(t, "Memberhub", got.ConfirmationFromName)
}

func TestNewPolicyHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("policy:\n  adminFeePercent: 150\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy-bad.yml"), content, 0o600))

	_, err := NewPolicyHolder(Config{Policies: PolicyConfigSource{Name: "policy-bad", Path: dir}})
	require.Error(t, err)
}

func TestNilPolicyHolderReturnsDefaults(t *testing.T) {
	var holder *PolicyHolder
	assert.Equal(t, DefaultPolicy(), holder.Get())
}
