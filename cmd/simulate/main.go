package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/api"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/db"
	"github.com/hackgods/venue-reservations/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ScanRatio     float64
	CancelRatio   float64
	CustomerLimit int
	SlotLimit     int
	MaxGuests     int
}

type booked struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Customers []uuid.UUID
	Slots     []uuid.UUID

	mu     sync.RWMutex
	booked []booked
}

func (dp *DataPool) Add(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

func (dp *DataPool) Random(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Scan    OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics

	outcomes sync.Map // scan outcome -> *int64
}

func (m *Metrics) outcome(name string) {
	v, _ := m.outcomes.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(baseCfg.Env).Named("simulate")
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}
	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("scan", cfg.ScanRatio),
		zap.Float64("cancel", cfg.CancelRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data loaded", zap.Int("customers", len(dataPool.Customers)), zap.Int("slots", len(dataPool.Slots)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.Run()
	sim.PrintReport()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer checkCancel()
	if err := checkLedger(checkCtx, pgPool, dataPool.Slots); err != nil {
		log.Error("ledger check failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("ledger check passed")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 20),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ScanRatio:     getFloat("SIM_SCAN_RATIO", 0.2),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		CustomerLimit: getInt("SIM_CUSTOMER_LIMIT", 2000),
		SlotLimit:     getInt("SIM_SLOT_LIMIT", 1),
		MaxGuests:     getInt("SIM_MAX_GUESTS", 6),
	}
	// Whatever is left goes to reads.
	if total := cfg.BookingRatio + cfg.ScanRatio + cfg.CancelRatio; total > 1 {
		cfg.BookingRatio /= total
		cfg.ScanRatio /= total
		cfg.CancelRatio /= total
	}
	return cfg
}

// The default slot limit of one puts every booking on the same slot.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM customers LIMIT $1`, cfg.CustomerLimit)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Customers = append(dp.Customers, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id FROM slots
		WHERE status = 'available' AND end_at > now()
		ORDER BY start_at
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Slots = append(dp.Slots, id)
	}
	rows.Close()

	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no open slots, run the seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ScanRatio:
			s.doScan(ctx, rng)
		case r < s.config.BookingRatio+s.config.ScanRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	req := api.CreateReservationRequest{
		SlotID:     s.pool.Slots[rng.Intn(len(s.pool.Slots))].String(),
		GuestCount: 1 + rng.Intn(s.config.MaxGuests),
	}
	if len(s.pool.Customers) > 0 && rng.Intn(10) > 0 {
		id := s.pool.Customers[rng.Intn(len(s.pool.Customers))].String()
		req.CustomerID = &id
	}

	var resp api.BookingResponse
	status, latency, err := s.do(ctx, http.MethodPost, "/reservations", req, &resp)
	if ctx.Err() != nil {
		return
	}
	ok := err == nil && status == http.StatusCreated
	if ok && resp.Credential != nil {
		s.pool.Add(booked{ID: resp.Reservation.ID, Token: resp.Credential.Token})
	}
	s.metrics.Booking.Record(latency, ok, status == http.StatusConflict)
}

func (s *Simulator) doScan(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Random(rng)
	if !ok {
		return
	}
	var resp api.ScanResponse
	status, latency, err := s.do(ctx, http.MethodPost, "/scan", api.ScanRequest{Token: b.Token}, &resp)
	if ctx.Err() != nil {
		return
	}
	success := err == nil && status == http.StatusOK
	if success {
		s.metrics.outcome(resp.Outcome)
	}
	s.metrics.Scan.Record(latency, success, false)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Random(rng)
	if !ok {
		return
	}
	status, latency, err := s.do(ctx, http.MethodPost, "/reservations/"+b.ID.String()+"/cancel", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := "/slots/" + s.pool.Slots[rng.Intn(len(s.pool.Slots))].String()
	if b, ok := s.pool.Random(rng); ok && rng.Intn(2) == 0 {
		path = "/reservations/" + b.ID.String()
	}
	status, latency, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(latency, err == nil && status == http.StatusOK, false)
}

// checkLedger verifies that every touched slot's counter equals the units
// held by its live reservations and never exceeds capacity.
func checkLedger(ctx context.Context, pool *pgxpool.Pool, slots []uuid.UUID) error {
	rows, err := pool.Query(ctx, `
		SELECT s.id, s.capacity, s.reserved_count,
		       COALESCE(SUM(r.held_units) FILTER (WHERE r.status <> 'cancelled'), 0)
		FROM slots s
		LEFT JOIN reservations r ON r.slot_id = s.id
		WHERE s.id = ANY($1)
		GROUP BY s.id, s.capacity, s.reserved_count
	`, slots)
	if err != nil {
		return err
	}
	defer rows.Close()

	var bad []string
	for rows.Next() {
		var (
			id                       uuid.UUID
			capacity, reserved, held int
		)
		if err := rows.Scan(&id, &capacity, &reserved, &held); err != nil {
			return err
		}
		fmt.Printf("slot %s: %d/%d reserved\n", id, reserved, capacity)
		if reserved > capacity || reserved != held {
			bad = append(bad, fmt.Sprintf("%s reserved=%d held=%d capacity=%d", id, reserved, held, capacity))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(bad) > 0 {
		return fmt.Errorf("%d slots out of balance: %s", len(bad), strings.Join(bad, "; "))
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Scan", &s.metrics.Scan)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)

	fmt.Println("Scan outcomes:")
	s.metrics.outcomes.Range(func(k, v any) bool {
		fmt.Printf("  %s: %d\n", k, atomic.LoadInt64(v.(*int64)))
		return true
	})
	fmt.Println()
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
