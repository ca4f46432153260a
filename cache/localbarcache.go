// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"context"
	"encoding/json"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/lotodore/localcache"

	"maystream/marketval"
)

// Historical series of closed bars do not change, but we still expire
// entries after a while to pick up venue side corrections.
const barCachePurgeAge = time.Hour * 24

type localBarCache struct {
	data     *localcache.Cache
	initLock sync.Mutex
}

func NewLocalBarCache(appName string, provider marketval.ProviderId) BarCache {
	c := localBarCache{}
	var err error
	c.data, err = localcache.New(filepath.Join(appName, "bars", string(provider)))
	if err != nil {
		log.Fatalf("error initializing bar cache: %v", err)
	}
	return &c
}

func (c *localBarCache) GetBars(ctx context.Context, key string, load BarLoader) ([]marketval.Bar, error) {
	if err := c.data.PurgeKey(key, barCachePurgeAge); err != nil {
		log.Printf("error purging bar cache %s, data may be outdated", key)
	}
	if bars := c.readFromCache(key); bars != nil {
		return bars, nil
	}
	return c.initCache(ctx, key, load)
}

func (c *localBarCache) readFromCache(key string) []marketval.Bar {
	raw, err := c.data.ReadFile(key)
	if err != nil {
		return nil
	}
	var bars []marketval.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		log.Printf("bar cache %s contains invalid data", key)
		if err := c.data.Remove(key); err != nil {
			log.Printf("error deleting bar cache %s", key)
		}
		return nil
	}
	return bars
}

func (c *localBarCache) initCache(ctx context.Context, key string, load BarLoader) ([]marketval.Bar, error) {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	// retry reading cache within lock, to avoid requesting the data twice.
	if bars := c.readFromCache(key); bars != nil {
		return bars, nil
	}
	bars, err := load(ctx)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(&bars)
	if err != nil {
		return nil, err
	}
	if err = c.data.WriteFile(key, text); err != nil {
		log.Printf("error writing bar cache %s: %v", key, err)
	}
	return bars, nil
}
