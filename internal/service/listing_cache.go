package service

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stemsi/exstem-session/internal/config"
)

// ListingCache keeps the last successful exam listing per (user, course). It
// is bounded in size and entries expire after ttl. Only the listing endpoint
// reads it, and only when the store fails.
type ListingCache struct {
	lru *expirable.LRU[string, AvailableExams]
}

// NewListingCache creates a ListingCache holding at most size entries.
func NewListingCache(size int, ttl time.Duration) *ListingCache {
	if size <= 0 {
		size = 1
	}
	return &ListingCache{lru: expirable.NewLRU[string, AvailableExams](size, nil, ttl)}
}

func (c *ListingCache) put(userEmail, courseID string, v AvailableExams) {
	c.lru.Add(listingKey(userEmail, courseID), v)
}

func (c *ListingCache) get(userEmail, courseID string) (AvailableExams, bool) {
	return c.lru.Get(listingKey(userEmail, courseID))
}

// Len returns the number of live entries.
func (c *ListingCache) Len() int {
	return c.lru.Len()
}

func listingKey(userEmail, courseID string) string {
	return config.CacheKey.ListingKey(strings.ToLower(userEmail), courseID)
}
