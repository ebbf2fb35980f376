package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentUnlockStatusKey returns the cache key for a student's computed lesson statuses
func (r *CacheKeyStruct) StudentUnlockStatusKey(studentID int) string {
	return fmt.Sprintf("student:%d:unlock_status", studentID)
}

// StudentUnlockVersionKey returns the counter bumped on every invalidation
func (r *CacheKeyStruct) StudentUnlockVersionKey(studentID int) string {
	return fmt.Sprintf("student:%d:unlock_version", studentID)
}

// QuizPayloadKey returns the cache key for the answer-free quiz payload
func (r *CacheKeyStruct) QuizPayloadKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:payload", quizID)
}

// AttemptLiveKey marks an attempt as bound to a live stream
func (r *CacheKeyStruct) AttemptLiveKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:live", attemptID)
}

var CacheKey = NewCacheKeyStruct()
