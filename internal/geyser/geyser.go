package geyser

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/klend-bot/liquidator/internal/decode"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/rpcclient"
)

const (
	bootstrapBatchSize   = 100
	bootstrapConcurrency = 4
	decodeFailureWindow  = 30 * time.Second
	decodeFailureLimit   = 50
	keepaliveInterval    = 5 * time.Second
	snapshotQuietWindow  = 8 * time.Second
)

// subscribeStreamDesc is a hand-declared stream descriptor standing in
// for a protoc-generated one: both client and server streaming, so the
// indexer can send periodic keepalive pings on the same stream it
// receives account updates from.
var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "SubscribeAccountUpdates",
	ServerStreams: true,
	ClientStreams: true,
}

const subscribeMethod = "/geyser.AccountUpdates/Subscribe"

// Indexer maintains a live, slot-ordered snapshot of obligation
// accounts: a batch-RPC bootstrap followed by a gRPC account-delta
// subscription with reconnect, watchdog and circuit-breaker handling.
type Indexer struct {
	rpc          *rpcclient.Client
	log          *logrus.Logger
	programID    string
	grpcEndpoint string

	inactivityTimeout    time.Duration
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	reconnectBackoff     float64

	mu          sync.RWMutex
	obligations map[string]*models.Obligation
	slots       map[string]uint64
	state       State

	decodeFailureMu sync.Mutex
	decodeFailures  []time.Time

	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Config configures one Indexer.
type Config struct {
	ProgramID            string
	GRPCEndpoint         string
	InactivityTimeout    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectBackoff     float64
}

// New constructs an Indexer in the Idle state.
func New(rpc *rpcclient.Client, log *logrus.Logger, cfg Config) *Indexer {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 15 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 8
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2
	}
	return &Indexer{
		rpc:                  rpc,
		log:                  log,
		programID:            cfg.ProgramID,
		grpcEndpoint:         cfg.GRPCEndpoint,
		inactivityTimeout:    cfg.InactivityTimeout,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		reconnectDelay:       cfg.ReconnectDelay,
		reconnectBackoff:     cfg.ReconnectBackoff,
		obligations:          make(map[string]*models.Obligation),
		slots:                make(map[string]uint64),
		state:                StateIdle,
	}
}

// State returns the indexer's current lifecycle state.
func (idx *Indexer) State() State {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.state
}

func (idx *Indexer) setState(s State) {
	idx.mu.Lock()
	idx.state = s
	idx.mu.Unlock()
}

// Snapshot returns a copy of every obligation currently held.
func (idx *Indexer) Snapshot() []*models.Obligation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*models.Obligation, 0, len(idx.obligations))
	for _, o := range idx.obligations {
		out = append(out, o)
	}
	return out
}

// upsert applies an account update, dropping it if its slot is
// strictly lower than the last-seen slot for that pubkey (out-of-order
// delivery). Equal slots merge last-writer-wins.
func (idx *Indexer) upsert(address string, obligation *models.Obligation, slot uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if last, ok := idx.slots[address]; ok && slot < last {
		return
	}
	idx.obligations[address] = obligation
	idx.slots[address] = slot
}

func (idx *Indexer) remove(address string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.obligations, address)
	delete(idx.slots, address)
}

func (idx *Indexer) recordDecodeFailure(now time.Time) (tripped bool) {
	idx.decodeFailureMu.Lock()
	defer idx.decodeFailureMu.Unlock()

	cutoff := now.Add(-decodeFailureWindow)
	kept := idx.decodeFailures[:0]
	for _, t := range idx.decodeFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	idx.decodeFailures = kept
	return len(idx.decodeFailures) >= decodeFailureLimit
}

// Bootstrap loads obligation accounts from an optional line-delimited
// snapshot file of base58 addresses and then an RPC program scan, inserting
// everything at slot 0 so any subsequent live update (slot > 0)
// supersedes it unconditionally.
func (idx *Indexer) Bootstrap(ctx context.Context, snapshotPath string) error {
	idx.setState(StateBootstrapping)

	if snapshotPath != "" {
		if err := idx.loadSnapshotFile(ctx, snapshotPath); err != nil {
			idx.log.WithError(err).Warn("geyser: snapshot file unavailable, continuing with RPC bootstrap only")
		}
	}

	if err := idx.bootstrapFromRPC(ctx); err != nil {
		return fmt.Errorf("geyser: rpc bootstrap: %w", err)
	}

	return nil
}

// loadSnapshotFile reads the line-delimited obligation snapshot (one
// base58 address per line, invalid lines skipped), batch-fetches the
// account data bootstrapBatchSize addresses at a time, and inserts each
// decoded obligation at slot 0.
func (idx *Indexer) loadSnapshotFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(line); err != nil {
			idx.log.WithField("line", line).Warn("geyser: invalid snapshot address, skipping")
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	loaded := 0
	for start := 0; start < len(addrs); start += bootstrapBatchSize {
		end := start + bootstrapBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		batch := addrs[start:end]
		accounts, err := idx.rpc.GetMultipleAccounts(ctx, batch)
		if err != nil {
			return fmt.Errorf("snapshot batch fetch: %w", err)
		}
		for i, acc := range accounts {
			if i >= len(batch) || acc == nil || len(acc.Data) == 0 {
				continue
			}
			idx.decodeAndStore(batch[i], acc.Data[0], 0)
			loaded++
		}
	}
	idx.log.WithField("count", loaded).Info("geyser: loaded obligations from snapshot file")
	return nil
}

func (idx *Indexer) bootstrapFromRPC(ctx context.Context) error {
	filter := rpcclient.MemcmpFilter{
		Offset: 0,
		Bytes:  base64.StdEncoding.EncodeToString(decode.ObligationDiscriminator[:]),
	}
	accounts, err := idx.rpc.GetProgramAccounts(ctx, idx.programID, []rpcclient.MemcmpFilter{filter})
	if err != nil {
		return err
	}

	sem := make(chan struct{}, bootstrapConcurrency)
	var wg sync.WaitGroup
	for _, acc := range accounts {
		wg.Add(1)
		sem <- struct{}{}
		go func(pubkey string, data []string) {
			defer wg.Done()
			defer func() { <-sem }()
			if len(data) == 0 {
				return
			}
			idx.decodeAndStore(pubkey, data[0], 0)
		}(acc.Pubkey, acc.Account.Data)
	}
	wg.Wait()
	return nil
}

func (idx *Indexer) decodeAndStore(pubkey, base64Data string, slot uint64) {
	raw, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		idx.onDecodeFailure(pubkey, err)
		return
	}
	pk, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		idx.onDecodeFailure(pubkey, err)
		return
	}
	obligation, err := decode.DecodeObligation(pk, raw)
	if err != nil {
		idx.onDecodeFailure(pubkey, err)
		return
	}
	obligation.Slot = slot
	idx.upsert(pubkey, obligation, slot)
}

func (idx *Indexer) onDecodeFailure(pubkey string, err error) {
	idx.log.WithError(err).WithField("pubkey", pubkey).Warn("geyser: decode failure")
	if idx.recordDecodeFailure(time.Now()) {
		idx.log.Error("geyser: decode failure rate tripped circuit breaker, stopping permanently")
		idx.setState(StateStopped)
	}
}

func (idx *Indexer) applyUpdate(update AccountUpdate, fallbackSlot uint64) {
	slot := update.Slot
	if slot == 0 {
		slot = fallbackSlot
	}
	idx.decodeAndStore(update.Pubkey, update.Data, slot)
}

// Run executes the full lifecycle: bootstrap, then (unless
// bootstrapOnly) an indefinitely-reconnecting gRPC subscription loop.
// It returns when ctx is canceled, Stop is called, the circuit breaker
// trips, or reconnect attempts are exhausted.
func (idx *Indexer) Run(ctx context.Context, snapshotPath string, bootstrapOnly bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	idx.runMu.Lock()
	idx.cancel = cancel
	done := make(chan struct{})
	idx.done = done
	idx.runMu.Unlock()
	defer close(done)
	defer cancel()

	if err := idx.Bootstrap(runCtx, snapshotPath); err != nil {
		return err
	}
	if idx.State() == StateStopped {
		return fmt.Errorf("geyser: circuit breaker tripped during bootstrap")
	}

	if bootstrapOnly {
		if idx.grpcEndpoint != "" {
			if err := idx.collectSnapshot(runCtx); err != nil {
				idx.log.WithError(err).Warn("geyser: stream-based snapshot collection failed, keeping RPC-only bootstrap result")
			}
		}
		idx.setState(StateBootstrapOnly)
		return nil
	}
	if idx.grpcEndpoint == "" {
		idx.setState(StateBootstrapOnly)
		return nil
	}

	attempts := 0
	delay := idx.reconnectDelay
	for {
		select {
		case <-runCtx.Done():
			idx.setState(StateStopped)
			return runCtx.Err()
		default:
		}

		idx.setState(StateStreaming)
		err := idx.streamOnce(runCtx)
		if idx.State() == StateStopped {
			return fmt.Errorf("geyser: circuit breaker tripped during streaming")
		}
		if err == nil {
			// stream ended cleanly (server closed it with EOF); treat as shutdown.
			idx.setState(StateStopped)
			return nil
		}

		attempts++
		if attempts > idx.maxReconnectAttempts {
			idx.setState(StateStopped)
			return fmt.Errorf("geyser: exceeded max reconnect attempts: %w", err)
		}

		idx.setState(StateReconnecting)
		idx.log.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "delay": delay}).Warn("geyser: stream dropped, reconnecting")

		select {
		case <-runCtx.Done():
			idx.setState(StateStopped)
			return runCtx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * idx.reconnectBackoff)
	}
}

// Stop idempotently cancels the indexer's run loop and waits for it to
// exit, racing against a 5-second wall-clock cap. Calling Stop before
// Run has started, or calling it more than once, never blocks
// indefinitely and never panics.
func (idx *Indexer) Stop() {
	idx.stopOnce.Do(func() {
		idx.runMu.Lock()
		cancel := idx.cancel
		done := idx.done
		idx.runMu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done == nil {
			idx.setState(StateStopped)
			return
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		idx.setState(StateStopped)
	})
}

// subscribeRequest scopes the stream to accounts owned by the lending
// program. Per the wire contract, a request with no account filters
// gets the obligation discriminator memcmp at offset 0 injected
// automatically, so the server never replays non-obligation accounts.
func (idx *Indexer) subscribeRequest() *SubscribeRequest {
	req := &SubscribeRequest{Owners: []string{idx.programID}}
	if len(req.MemcmpFilters) == 0 {
		req.MemcmpFilters = []MemcmpFilter{{
			Offset: 0,
			Bytes:  base64.StdEncoding.EncodeToString(decode.ObligationDiscriminator[:]),
		}}
	}
	return req
}

func (idx *Indexer) streamOnce(ctx context.Context) error {
	conn, err := grpc.NewClient(idx.grpcEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := conn.NewStream(streamCtx, subscribeStreamDesc, subscribeMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := stream.SendMsg(idx.subscribeRequest()); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}

	keepaliveTicker := time.NewTicker(keepaliveInterval)
	defer keepaliveTicker.Stop()

	msgCh := make(chan *SubscribeResponse, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			resp := &SubscribeResponse{}
			if err := stream.RecvMsg(resp); err != nil {
				if err == io.EOF {
					errCh <- nil
				} else {
					errCh <- err
				}
				return
			}
			msgCh <- resp
		}
	}()

	inactivity := time.NewTimer(idx.inactivityTimeout)
	defer inactivity.Stop()

	var pingID int32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-keepaliveTicker.C:
			pingID++
			_ = stream.SendMsg(&SubscribeRequest{Ping: &PingRequest{Id: pingID}})

		case err := <-errCh:
			return err

		case resp := <-msgCh:
			resetTimer(inactivity, idx.inactivityTimeout)
			if resp.Account != nil {
				idx.applyUpdate(*resp.Account, resp.Account.Slot)
				if idx.State() == StateStopped {
					return fmt.Errorf("circuit breaker tripped")
				}
			}
			if resp.Pong != nil {
				idx.log.WithField("id", resp.Pong.Id).Debug("geyser: keepalive reflected by server")
			}

		case <-inactivity.C:
			return fmt.Errorf("no activity for %v", idx.inactivityTimeout)
		}
	}
}

// resetTimer drains t if it already fired before re-arming it, per the
// documented time.Timer.Reset caveat; callers must not be selecting on
// t.C concurrently with this call.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// collectSnapshot opens one gRPC subscription purely to catch the
// initial burst of isStartup account frames a geyser-style plugin
// replays on connect, applying each as it arrives. It ends the
// collection snapshotQuietWindow after the last startup-tagged frame
// (an account update with IsStartup set, or the startupComplete
// marker) and returns. It never reconnects: a transport error here
// just leaves whatever the RPC-sourced bootstrap already produced in
// place.
func (idx *Indexer) collectSnapshot(ctx context.Context) error {
	conn, err := grpc.NewClient(idx.grpcEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := conn.NewStream(streamCtx, subscribeStreamDesc, subscribeMethod, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := stream.SendMsg(idx.subscribeRequest()); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}

	msgCh := make(chan *SubscribeResponse, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			resp := &SubscribeResponse{}
			if err := stream.RecvMsg(resp); err != nil {
				if err == io.EOF {
					errCh <- nil
				} else {
					errCh <- err
				}
				return
			}
			msgCh <- resp
		}
	}()

	startupSeen := false
	quiet := time.NewTimer(snapshotQuietWindow)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case resp := <-msgCh:
			startupFrame := resp.StartupComplete
			if resp.Account != nil {
				idx.applyUpdate(*resp.Account, resp.Account.Slot)
				if idx.State() == StateStopped {
					return fmt.Errorf("circuit breaker tripped")
				}
				startupFrame = startupFrame || resp.Account.IsStartup
			}
			if startupFrame {
				startupSeen = true
				resetTimer(quiet, snapshotQuietWindow)
			}

		case <-quiet.C:
			if startupSeen {
				return nil
			}
			quiet.Reset(snapshotQuietWindow)
		}
	}
}
