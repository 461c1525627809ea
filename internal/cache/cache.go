// Package cache holds the ephemeral status mirror. It is not authoritative;
// the payments table is the source of truth.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/adonis30/onix-payments-go/internal/payment"
)

const keyPrefix = "payment:"

// StatusCache keeps the latest known status per reference with a bounded TTL.
type StatusCache struct {
	lru *expirable.LRU[string, payment.Status]
}

func NewStatusCache(size int, ttl time.Duration) *StatusCache {
	return &StatusCache{lru: expirable.NewLRU[string, payment.Status](size, nil, ttl)}
}

func (c *StatusCache) GetStatus(reference string) (payment.Status, bool) {
	return c.lru.Get(keyPrefix + reference)
}

func (c *StatusCache) SetStatus(reference string, status payment.Status) {
	c.lru.Add(keyPrefix+reference, status)
}
