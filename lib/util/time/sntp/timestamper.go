package sntp

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// NTPClient performs a single NTP query.
type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

type DefaultNTPClient struct{}

func (c *DefaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

const (
	minQueryFrequency     = 5 * time.Minute
	defaultQueryFrequency = 11 * time.Minute
	defaultConcurring     = 3
	defaultTimeout        = 5 * time.Second
	failureRetryDelay     = 30 * time.Second
	maxVariance           = 10 * time.Second
)

// DefaultServers are queried when Config.Servers is empty.
var DefaultServers = []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org"}

// ErrNoConsensus means the samples disagreed or too few servers answered.
var ErrNoConsensus = errors.New("ntp servers did not agree")

// Config configures a Timestamper.
type Config struct {
	Servers        []string
	QueryFrequency time.Duration
	// Concurring is how many valid, mutually consistent samples a sync needs.
	Concurring int
	Timeout    time.Duration
}

// Timestamper is a Clock corrected by NTP.
type Timestamper struct {
	client NTPClient
	config Config

	mu     sync.RWMutex
	offset time.Duration
	synced bool
	last   time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTimestamper returns a Timestamper that reads the local clock until
// its first successful Sync. A nil client uses DefaultNTPClient.
func NewTimestamper(client NTPClient, config Config) *Timestamper {
	if client == nil {
		client = &DefaultNTPClient{}
	}
	if len(config.Servers) == 0 {
		config.Servers = DefaultServers
	}
	if config.QueryFrequency < minQueryFrequency {
		config.QueryFrequency = defaultQueryFrequency
	}
	if config.Concurring <= 0 {
		config.Concurring = defaultConcurring
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Timestamper{
		client:   client,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Now returns the local time adjusted by the last measured offset.
func (ts *Timestamper) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().Add(ts.offset)
}

// Offset returns the correction currently applied.
func (ts *Timestamper) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// Synced reports whether at least one sync has succeeded.
func (ts *Timestamper) Synced() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.synced
}

// LastSync returns when the offset was last updated, or the zero time.
func (ts *Timestamper) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.last
}

// Start syncs immediately and then periodically until Stop.
func (ts *Timestamper) Start() {
	ts.wg.Add(1)
	go ts.run()
}

// Stop ends the background loop and waits for it. Safe to call repeatedly.
func (ts *Timestamper) Stop() {
	ts.stopOnce.Do(func() {
		close(ts.stopChan)
	})
	ts.wg.Wait()
}

// Close implements io.Closer so the timestamper can be registered for shutdown.
func (ts *Timestamper) Close() error {
	ts.Stop()
	return nil
}

func (ts *Timestamper) run() {
	defer ts.wg.Done()
	for {
		delay := ts.config.QueryFrequency + time.Duration(rand.Int64N(int64(ts.config.QueryFrequency/2)))
		if err := ts.Sync(); err != nil {
			log.WithFields(logger.Fields{
				"at":      "sntp.Timestamper.run",
				"servers": ts.config.Servers,
			}).WithError(err).Warn("ntp_sync_failed")
			delay = failureRetryDelay
		}

		select {
		case <-time.After(delay):
		case <-ts.stopChan:
			return
		}
	}
}

// Sync collects Config.Concurring samples from randomly chosen servers and
// applies their median offset. Samples more than maxVariance apart abort
// the round and leave the previous offset in place.
func (ts *Timestamper) Sync() error {
	samples := make([]time.Duration, 0, ts.config.Concurring)
	attempts := ts.config.Concurring + len(ts.config.Servers)

	for i := 0; i < attempts && len(samples) < ts.config.Concurring; i++ {
		server := ts.config.Servers[rand.IntN(len(ts.config.Servers))]
		offset, err := ts.query(server)
		if err != nil {
			continue
		}
		if len(samples) > 0 && absDuration(offset-samples[0]) > maxVariance {
			return oops.
				In("sntp").
				With("first", samples[0].String()).
				With("sample", offset.String()).
				Wrapf(ErrNoConsensus, "sample from %s differs by more than %s", server, maxVariance)
		}
		samples = append(samples, offset)
	}
	if len(samples) < ts.config.Concurring {
		return oops.
			In("sntp").
			With("samples", len(samples)).
			Wrapf(ErrNoConsensus, "collected %d of %d samples", len(samples), ts.config.Concurring)
	}

	median := calculateMedian(samples)
	ts.mu.Lock()
	ts.offset = median
	ts.synced = true
	ts.last = time.Now()
	ts.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":     "sntp.Timestamper.Sync",
		"offset": median.String(),
	}).Debug("ntp_offset_updated")
	return nil
}

func (ts *Timestamper) query(server string) (time.Duration, error) {
	response, err := ts.client.QueryWithOptions(server, ntp.QueryOptions{Timeout: ts.config.Timeout})
	if err != nil {
		log.WithError(err).WithField("server", server).Debug("ntp_query_failed")
		return 0, err
	}
	if err := validateResponse(response); err != nil {
		log.WithError(err).WithField("server", server).Debug("ntp_response_rejected")
		return 0, err
	}
	return response.ClockOffset, nil
}

func calculateMedian(deltas []time.Duration) time.Duration {
	if len(deltas) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), deltas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
