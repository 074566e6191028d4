package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// GeocodeKey returns the cache key for a normalized address.
// Keys are case-insensitive so "Halifax" and "HALIFAX" share an entry.
func (r *CacheKeyStruct) GeocodeKey(address string) string {
	return fmt.Sprintf("geocode:%s", strings.ToLower(strings.TrimSpace(address)))
}

// SchoolGroupsKey returns the cache key for the sorted list of school groups.
func (r *CacheKeyStruct) SchoolGroupsKey() string {
	return "schools:groups"
}

var CacheKey = NewCacheKeyStruct()
