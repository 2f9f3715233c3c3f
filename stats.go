// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Optional detailed statistics, gated by Config.EnableDetailedStatistics
// (spec.md section 6/section 9's "detailed statistics schema"). Grounded
// on client_golang's promauto idiom as used across the pack's exporter-
// shaped repos.
package spanmalloc

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// livePagesMapped tracks OS pages currently mapped minus pages unmapped,
// independent of Config.EnableDetailedStatistics, so MappedPageCount is a
// meaningful baseline check (spec.md section 8's S6: "verify OS mapping
// counter returns to baseline") even when the Prometheus metrics below are
// switched off.
var livePagesMapped atomic.Int64

// MappedPageCount reports the net OS pages the virtual memory mapper
// currently holds mapped, across every heap and the global span cache.
func MappedPageCount() int64 {
	return livePagesMapped.Load()
}

var (
	statPagesMapped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spanmalloc",
		Name:      "pages_mapped_total",
		Help:      "OS pages obtained from the virtual memory mapper.",
	})
	statPagesUnmapped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spanmalloc",
		Name:      "pages_unmapped_total",
		Help:      "OS pages released back to the virtual memory mapper.",
	})
	statGlobalCacheDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spanmalloc",
		Name:      "global_cache_spans",
		Help:      "Spans currently held in the global span cache, by page count.",
	}, []string{"page_count"})
	statDeferredPushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spanmalloc",
		Name:      "deferred_pushes_total",
		Help:      "Blocks pushed onto a foreign heap's deferred-deallocation queue.",
	})
	statDeferredDrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spanmalloc",
		Name:      "deferred_drained_total",
		Help:      "Blocks reclaimed from a heap's own deferred-deallocation queue.",
	})
	statOversizeAllocs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spanmalloc",
		Name:      "oversize_allocations_total",
		Help:      "Allocations routed to the oversize path.",
	})
	statLiveBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spanmalloc",
		Name:      "live_blocks",
		Help:      "Live blocks per size class, as of the last allocate/deallocate.",
	}, []string{"size_class"})
)

func statsPagesMapped(pageCount uint32) {
	livePagesMapped.Add(int64(pageCount))
	if !activeConfig.EnableDetailedStatistics {
		return
	}
	statPagesMapped.Add(float64(pageCount))
}

func statsPagesUnmapped(pageCount uint32) {
	livePagesMapped.Add(-int64(pageCount))
	if !activeConfig.EnableDetailedStatistics {
		return
	}
	statPagesUnmapped.Add(float64(pageCount))
}

func statsGlobalCacheDepth(pageCount uint32, depth int64) {
	if !activeConfig.EnableDetailedStatistics {
		return
	}
	statGlobalCacheDepth.WithLabelValues(pageCountLabel(pageCount)).Set(float64(depth))
}

func statsDeferredPush() {
	if activeConfig.EnableDetailedStatistics {
		statDeferredPushes.Inc()
	}
}

func statsDeferredDrained(n int) {
	if activeConfig.EnableDetailedStatistics {
		statDeferredDrained.Add(float64(n))
	}
}

func statsOversizeAlloc() {
	if activeConfig.EnableDetailedStatistics {
		statOversizeAllocs.Inc()
	}
}

func statsLiveBlocks(class int32, delta int64) {
	if !activeConfig.EnableDetailedStatistics {
		return
	}
	statLiveBlocks.WithLabelValues(classLabel(class)).Add(float64(delta))
}

func pageCountLabel(pageCount uint32) string {
	return strconv.FormatUint(uint64(pageCount), 10)
}

func classLabel(class int32) string {
	if class == oversizeClass {
		return "oversize"
	}
	return strconv.FormatInt(int64(class), 10)
}
