package metastore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	db *DB

	reads       *prometheus.Desc
	writes      *prometheus.Desc
	commits     *prometheus.Desc
	rollbacks   *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	cached      *prometheus.Desc
	sessions    *prometheus.Desc
}

// Collector exposes the DB's counters to Prometheus. constLabels tell apart
// several stores registered with the same registry.
func (db *DB) Collector(constLabels prometheus.Labels) prometheus.Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("metastore", "", name), help, labels, constLabels)
	}
	return &collector{
		db:          db,
		reads:       desc("reads_total", "Read statements issued to the database."),
		writes:      desc("writes_total", "Statements that modify data, including committed ones."),
		commits:     desc("commits_total", "Successful session commits."),
		rollbacks:   desc("rollbacks_total", "Session commits that failed and were rolled back."),
		cacheHits:   desc("cache_hits_total", "Identifier lookups served from cache."),
		cacheMisses: desc("cache_misses_total", "Identifier lookups that went to the database."),
		cached:      desc("cached_identifiers", "Identifiers currently cached.", "registry"),
		sessions:    desc("open_sessions", "Sessions created and not yet closed."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.commits
	ch <- c.rollbacks
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cached
	ch <- c.sessions
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	db := c.db
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.reads, db.ReadCount.Load())
	counter(c.writes, db.WriteCount.Load())
	counter(c.commits, db.CommitCount.Load())
	counter(c.rollbacks, db.RollbackCount.Load())
	counter(c.cacheHits, db.CacheHits.Load())
	counter(c.cacheMisses, db.CacheMisses.Load())

	cs := db.CacheStats()
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(cs.Tables), "tables")
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(cs.Names), "names")
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(cs.Values), "values")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(db.OpenSessionCount()))
}
