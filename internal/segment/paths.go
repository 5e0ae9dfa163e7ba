package segment

import (
	"fmt"
	"path/filepath"
)

const (
	LogExtension       = "log"
	IndexExtension     = "index"
	TimeIndexExtension = "timeindex"
)

// PartitionDir derives <base>/streams/<stream_id>/topics/<topic_id>/partitions/<partition_id>.
func PartitionDir(baseDir string, streamID, topicID, partitionID uint32) string {
	return filepath.Join(
		baseDir,
		"streams", fmt.Sprintf("%d", streamID),
		"topics", fmt.Sprintf("%d", topicID),
		"partitions", fmt.Sprintf("%d", partitionID),
	)
}

func segmentsDir(partitionDir string) string {
	return filepath.Join(partitionDir, "segments")
}

func basePath(partitionDir string, startOffset uint64) string {
	return filepath.Join(segmentsDir(partitionDir), fmt.Sprintf("%020d", startOffset))
}

func LogPath(partitionDir string, startOffset uint64) string {
	return basePath(partitionDir, startOffset) + "." + LogExtension
}

func IndexPath(partitionDir string, startOffset uint64) string {
	return basePath(partitionDir, startOffset) + "." + IndexExtension
}

func TimeIndexPath(partitionDir string, startOffset uint64) string {
	return basePath(partitionDir, startOffset) + "." + TimeIndexExtension
}
