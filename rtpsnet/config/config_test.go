package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesOverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	contents := `
[Domain]
domain_id = 5
participant_name = "sensor-node"

[Transport]
unicast_port = 8400
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Domain.DomainID)
	require.Equal(t, "sensor-node", cfg.Domain.ParticipantName)
	require.Equal(t, 8400, cfg.Transport.UnicastPort)
	require.Equal(t, 1344, cfg.Reliability.FragmentSize) // default retained
}

func TestValidateRejectsBadDomainID(t *testing.T) {
	cfg := Defaults()
	cfg.Domain.DomainID = 999
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveFragmentSize(t *testing.T) {
	cfg := Defaults()
	cfg.Reliability.FragmentSize = 0
	require.Error(t, cfg.Validate())
}
