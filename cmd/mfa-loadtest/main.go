// Command mfa-loadtest drives concurrent login attempts through an
// in-process engine and reports latency percentiles per phase. Biometric
// sidecars are replaced by fixed detectors so only the orchestration,
// hashing and redis costs are measured.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	mfa "github.com/JasonStuckless/SecurityProject"
	"github.com/JasonStuckless/SecurityProject/biometric/face"
	"github.com/JasonStuckless/SecurityProject/biometric/voice"
	"github.com/JasonStuckless/SecurityProject/otp"
	"github.com/JasonStuckless/SecurityProject/store/memstore"
)

const loadPassword = "load-test-password"

type userState struct {
	name  string
	phone string
	mu    sync.Mutex
}

// codeBook captures codes from the local OTP provider by phone.
type codeBook struct {
	codes sync.Map
}

func (b *codeBook) Notify(_ context.Context, phone, message string) error {
	if len(message) < 6 {
		return fmt.Errorf("short otp message %q", message)
	}
	b.codes.Store(phone, message[len(message)-6:])
	return nil
}

func (b *codeBook) code(phone string) string {
	v, _ := b.codes.Load(phone)
	s, _ := v.(string)
	return s
}

func main() {
	var (
		users       = flag.Int("users", 1000, "number of users to enroll")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase (begin + full login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		bcryptCost  = flag.Int("bcrypt-cost", 4, "bcrypt cost for enrolled passwords")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	book := &codeBook{}
	engine, err := buildEngine(client, book, *bcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]userState, *users)
	fmt.Printf("enrolling %d users...\n", *users)
	startSeed := time.Now()
	for i := range states {
		states[i].name = fmt.Sprintf("user-%d", i)
		states[i].phone = fmt.Sprintf("+1555%07d", i)
		if err := engine.Register(ctx, registration(states[i].name, states[i].phone)); err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("enrolled in %s\n", time.Since(startSeed).Round(time.Millisecond))

	beginStats := runPhase(states, *ops, *concurrency, 7919, func(u *userState) error {
		v, err := engine.BeginLogin(ctx, u.name)
		if err != nil {
			return err
		}
		return engine.Cancel(ctx, v.ID)
	})
	loginStats := runPhase(states, *ops, *concurrency, 6151, func(u *userState) error {
		// One login per user at a time: the OTP provider keeps a single code per phone.
		u.mu.Lock()
		defer u.mu.Unlock()
		return fullLogin(ctx, engine, book, u)
	})

	fmt.Println("---- results ----")
	printStats("begin+cancel", beginStats)
	printStats("full login", loginStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("authenticated=%d active_attempts=%d audit_dropped=%d\n",
		snap.Counters[mfa.MetricAuthenticated], engine.ActiveAttempts(), engine.AuditDropped())
}

func buildEngine(client redis.UniversalClient, book *codeBook, bcryptCost int) (*mfa.Engine, error) {
	provider, err := otp.NewLocalProvider(client, book, otp.LocalConfig{})
	if err != nil {
		return nil, err
	}

	cfg := mfa.DefaultConfig()
	cfg.Password.BcryptCost = bcryptCost
	cfg.Face.Size = 16
	cfg.OTP.MaxSends = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Audit.Enabled = false

	return mfa.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithRedis(client).
		WithFaceDetector(face.StaticDetector{Faces: []image.Rectangle{image.Rect(2, 2, 30, 30)}}).
		WithEmbedder(voice.EmbedderFunc(func(context.Context, []int16, int) ([]float32, error) {
			return []float32{0.6, 0.8}, nil
		})).
		WithOTPProvider(provider).
		Build()
}

func registration(name, phone string) mfa.RegistrationRequest {
	return mfa.RegistrationRequest{
		Username:        name,
		Password:        loadPassword,
		ConfirmPassword: loadPassword,
		Phone:           phone,
		Face:            faceSample(),
		Voice:           voiceClip(),
	}
}

func faceSample() mfa.FaceSample {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	return mfa.FaceSample{Image: img}
}

func voiceClip() voice.Clip {
	samples := make([]int16, voice.DefaultSampleRate)
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	return voice.Clip{Samples: samples, SampleRate: voice.DefaultSampleRate}
}

func fullLogin(ctx context.Context, engine *mfa.Engine, book *codeBook, u *userState) error {
	v, err := engine.BeginLogin(ctx, u.name)
	if err != nil {
		return err
	}
	if _, err := engine.VerifyPassword(ctx, v.ID, loadPassword); err != nil {
		return err
	}
	if _, err := engine.VerifyVoice(ctx, v.ID, voiceClip()); err != nil {
		return err
	}
	if _, err := engine.VerifyFace(ctx, v.ID, faceSample()); err != nil {
		return err
	}
	if err := engine.SendOTP(ctx, v.ID); err != nil {
		return err
	}
	_, err = engine.VerifyOTP(ctx, v.ID, book.code(u.phone))
	return err
}

func runPhase(states []userState, ops, concurrency int, seed int64, op func(*userState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				u := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(u)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
