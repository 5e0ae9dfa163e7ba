package system

import "streamlog/internal/topic"

// Config is the root configuration every new stream/topic inherits a
// default from. It is a plain struct cmd/server builds from flags; there
// is no config-file loader at this layer.
type Config struct {
	BaseDir string

	DefaultTopicConfig topic.Config

	// RetentionCheckIntervalSeconds controls how often the retention
	// sweep visits every stream/topic.
	RetentionCheckIntervalSeconds int64
}

func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:                       baseDir,
		DefaultTopicConfig:            topic.DefaultConfig(),
		RetentionCheckIntervalSeconds: 30,
	}
}
