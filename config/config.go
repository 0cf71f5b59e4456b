package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/constants"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// ErrInvalid wraps every configuration problem.
var ErrInvalid = errors.New("invalid configuration")

// Config is the runtime configuration of one peer. It is loaded once at
// startup and passed by value to whatever needs it.
type Config struct {
	BucketCount     int
	BucketSizeLimit int
	FragmentSize    int // bytes
	ReplicaCount    int

	FragmentStorageRoot   string
	FragmentFileExtension string
	HashAlgorithm         string
	FragmentBoundary      string

	// Host is advertised to other peers and used to bind both listeners.
	Host         string
	ControlPort  int
	TransferPort int
	PeerDataPath string
	// APIPort is the status API port; 0 disables it.
	APIPort int
}

func Default() Config {
	size, _ := ParseSize(constants.FragmentSize)
	return Config{
		BucketCount:           constants.BucketCount,
		BucketSizeLimit:       constants.K,
		FragmentSize:          size,
		ReplicaCount:          constants.ReplicaCount,
		FragmentStorageRoot:   constants.FragmentStorageRoot,
		FragmentFileExtension: constants.FragmentFileExtension,
		HashAlgorithm:         constants.HashAlgorithm,
		FragmentBoundary:      constants.FragmentBoundary,
		Host:                  "127.0.0.1",
		ControlPort:           constants.ControlPort,
		TransferPort:          constants.TransferPort,
		PeerDataPath:          constants.PeerDataPath,
	}
}

// Load reads the properties file at path (skipped when path is empty), then
// applies SFS_<KEY> environment overrides on top of the defaults and
// validates the result.
func Load(path string) (Config, error) {
	props := map[string]string{}
	if path != "" {
		var err error
		props, err = godotenv.Read(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	return FromMap(props, os.LookupEnv)
}

// FromMap builds a Config from key/value pairs. lookupEnv may be nil.
func FromMap(props map[string]string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		if lookupEnv != nil {
			if v, ok := lookupEnv(constants.EnvPrefix + strings.ToUpper(key)); ok {
				return v, true
			}
		}
		v, ok := props[key]
		return v, ok
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"bucketCount", &cfg.BucketCount},
		{"bucketSizeLimit", &cfg.BucketSizeLimit},
		{"replicaCount", &cfg.ReplicaCount},
		{"controlPort", &cfg.ControlPort},
		{"transferPort", &cfg.TransferPort},
		{"apiPort", &cfg.APIPort},
	}
	for _, f := range ints {
		v, ok := get(f.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, errors.Wrapf(ErrInvalid, "%s: %q is not a number", f.key, v)
		}
		*f.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"fragmentStorageRoot", &cfg.FragmentStorageRoot},
		{"fragmentFileExtension", &cfg.FragmentFileExtension},
		{"hashAlgorithm", &cfg.HashAlgorithm},
		{"fragmentBoundary", &cfg.FragmentBoundary},
		{"host", &cfg.Host},
		{"peerDataPath", &cfg.PeerDataPath},
	}
	for _, f := range strs {
		if v, ok := get(f.key); ok {
			*f.dst = strings.TrimSpace(v)
		}
	}

	if v, ok := get("fragmentSize"); ok {
		size, err := ParseSize(v)
		if err != nil {
			return Config{}, err
		}
		cfg.FragmentSize = size
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.WithFields(log.Fields{
		"bucketCount":     cfg.BucketCount,
		"bucketSizeLimit": cfg.BucketSizeLimit,
		"fragmentSize":    units.BytesSize(float64(cfg.FragmentSize)),
		"replicaCount":    cfg.ReplicaCount,
		"hash":            cfg.HashAlgorithm,
	}).Debug("configuration loaded")
	return cfg, nil
}

// ParseSize reads sizes such as "512", "4b", "16Kb", "64KB" or "1MB".
// Units are powers of 1024.
func ParseSize(s string) (int, error) {
	v := strings.TrimSpace(s)
	for _, suffix := range []string{"byte", "Byte"} {
		if strings.HasSuffix(v, suffix) {
			v = strings.TrimSuffix(v, suffix) + "B"
			break
		}
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalid, "fragmentSize %q: %v", s, err)
	}
	if n <= 0 {
		return 0, errors.Wrapf(ErrInvalid, "fragmentSize %q must be positive", s)
	}
	return int(n), nil
}

func (c Config) Validate() error {
	if _, err := id_tools.NewDeriver(c.HashAlgorithm, c.BucketCount); err != nil {
		return errors.Wrapf(ErrInvalid, "bucketCount/hashAlgorithm: %v", err)
	}
	if c.BucketSizeLimit < 1 {
		return errors.Wrapf(ErrInvalid, "bucketSizeLimit must be at least 1, got %d", c.BucketSizeLimit)
	}
	if c.ReplicaCount < 0 {
		return errors.Wrapf(ErrInvalid, "replicaCount must not be negative, got %d", c.ReplicaCount)
	}
	if err := chunk.CheckBoundary(c.FragmentBoundary, c.FragmentSize); err != nil {
		return errors.Wrapf(ErrInvalid, "fragmentBoundary: %v", err)
	}
	if c.FragmentStorageRoot == "" {
		return errors.Wrap(ErrInvalid, "fragmentStorageRoot is empty")
	}
	if c.PeerDataPath == "" {
		return errors.Wrap(ErrInvalid, "peerDataPath is empty")
	}
	for name, port := range map[string]int{"controlPort": c.ControlPort, "transferPort": c.TransferPort, "apiPort": c.APIPort} {
		if port < 0 || port > 65535 {
			return errors.Wrapf(ErrInvalid, "%s %d out of range", name, port)
		}
	}
	return nil
}

// Deriver builds the identifier deriver the configuration describes.
func (c Config) Deriver() (*id_tools.Deriver, error) {
	return id_tools.NewDeriver(c.HashAlgorithm, c.BucketCount)
}
