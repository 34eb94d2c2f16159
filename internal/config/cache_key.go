package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionRecordKey returns the cache key for a session's immutable record
func (r *CacheKeyStruct) SessionRecordKey(sessionID string) string {
	return fmt.Sprintf("station:session:%s:record", sessionID)
}

// SessionLockedBlocksKey returns the cache key for a session's append-only lock set
func (r *CacheKeyStruct) SessionLockedBlocksKey(sessionID string) string {
	return fmt.Sprintf("station:session:%s:locked_blocks", sessionID)
}

// SessionAnswersKey returns the cache key for a session's answers hash
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("station:session:%s:answers", sessionID)
}

// SessionFinishedKey returns the cache key holding a finished session's results
func (r *CacheKeyStruct) SessionFinishedKey(sessionID string) string {
	return fmt.Sprintf("station:session:%s:finished", sessionID)
}

// RendererSessionKey returns the cache key holding the JTI of the attached renderer
func (r *CacheKeyStruct) RendererSessionKey() string {
	return "station:renderer_session"
}

// StationEventsChannel returns the pub/sub channel carrying session events
func (r *CacheKeyStruct) StationEventsChannel() string {
	return "station:events"
}

var CacheKey = NewCacheKeyStruct()
