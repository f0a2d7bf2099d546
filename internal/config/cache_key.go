package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPaperKey returns the cache key for an exam's sanitized paper
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

// ListingKey returns the fallback cache key for a user's exam listing
func (r *CacheKeyStruct) ListingKey(userEmail, courseID string) string {
	return fmt.Sprintf("listing:%s:course:%s", userEmail, courseID)
}

var CacheKey = NewCacheKeyStruct()
