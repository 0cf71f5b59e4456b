package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	for in, want := range map[string]int{
		"10":      10,
		"4b":      4,
		"4B":      4,
		"7byte":   7,
		"7Byte":   7,
		"16kb":    16 * 1024,
		"16Kb":    16 * 1024,
		"16KB":    16 * 1024,
		"2mb":     2 * 1024 * 1024,
		"2Mb":     2 * 1024 * 1024,
		"2MB":     2 * 1024 * 1024,
		" 64KB  ": 64 * 1024,
	} {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "KB", "12 parsecs", "-4KB", "0"} {
		_, err := ParseSize(in)
		assert.True(t, errors.Is(err, ErrInvalid), in)
	}
}

func TestLoad_PropertiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, ioutil.WriteFile(path, []byte(`# peer settings
bucketCount=32
bucketSizeLimit=2
fragmentSize=4Kb
replicaCount=1
fragmentStorageRoot=/tmp/sfs/fragments
fragmentFileExtension=.spark
hashAlgorithm=blake2b
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.BucketCount)
	assert.Equal(t, 2, cfg.BucketSizeLimit)
	assert.Equal(t, 4096, cfg.FragmentSize)
	assert.Equal(t, 1, cfg.ReplicaCount)
	assert.Equal(t, "/tmp/sfs/fragments", cfg.FragmentStorageRoot)
	assert.Equal(t, ".spark", cfg.FragmentFileExtension)
	assert.Equal(t, "blake2b", cfg.HashAlgorithm)
	// untouched keys keep their defaults
	assert.Equal(t, Default().ControlPort, cfg.ControlPort)

	d, err := cfg.Deriver()
	require.NoError(t, err)
	assert.Equal(t, 4, d.Size())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.properties"))
	assert.Error(t, err)
}

func TestFromMap_EnvironmentOverrides(t *testing.T) {
	env := map[string]string{
		"SFS_REPLICACOUNT": "5",
		"SFS_CONTROLPORT":  "7001",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := FromMap(map[string]string{"replicaCount": "2", "transferPort": "7002"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ReplicaCount)
	assert.Equal(t, 7001, cfg.ControlPort)
	assert.Equal(t, 7002, cfg.TransferPort)
}

func TestFromMap_Invalid(t *testing.T) {
	for name, props := range map[string]map[string]string{
		"width not a byte multiple": {"bucketCount": "12"},
		"width wider than digest":   {"bucketCount": "512"},
		"unknown digest":            {"hashAlgorithm": "md5"},
		"empty bucket":              {"bucketSizeLimit": "0"},
		"negative replicas":         {"replicaCount": "-1"},
		"not a number":              {"replicaCount": "three"},
		"bad size":                  {"fragmentSize": "lots"},
		"rabin too small":           {"fragmentBoundary": "rabin", "fragmentSize": "16b"},
		"port out of range":         {"controlPort": "70000"},
		"no storage root":           {"fragmentStorageRoot": ""},
	} {
		_, err := FromMap(props, nil)
		assert.True(t, errors.Is(err, ErrInvalid), name)
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
