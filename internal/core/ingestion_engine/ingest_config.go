package ingestion_engine

import "time"

// ChunkerConfig bounds chunk sizes in tokens.
type ChunkerConfig struct {
	TargetTokens   int
	OverlapTokens  int
	MinChunkTokens int
	StitchPages    bool
}

// DefaultChunkerConfig are the settings used at ingestion time.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{TargetTokens: 1200, OverlapTokens: 300, MinChunkTokens: 50, StitchPages: true}
}

// normalized clamps the overlap below the target so windows always advance.
func (c ChunkerConfig) normalized() ChunkerConfig {
	if c.TargetTokens <= 0 {
		c.TargetTokens = DefaultChunkerConfig().TargetTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.OverlapTokens >= c.TargetTokens {
		c.OverlapTokens = c.TargetTokens - 1
	}
	if c.MinChunkTokens < 0 {
		c.MinChunkTokens = 0
	}
	return c
}

// limit is the hard cap of every chunk except force splits, and the cap of
// the overflow tolerated while a chunk is still below MinChunkTokens.
func (c ChunkerConfig) limit() int {
	return c.TargetTokens + c.OverlapTokens
}

// step is how far fixed and forced windows advance.
func (c ChunkerConfig) step() int {
	return max(1, c.TargetTokens-c.OverlapTokens)
}

type IngestConfig struct {
	DocID       string
	Bucket      string
	ManifestKey string
	Chunking    ChunkerConfig
	// Timeout bounds one ingestion run, independent of the triggering request.
	Timeout time.Duration
	// Workers drain the background refresh queue.
	Workers int
}
