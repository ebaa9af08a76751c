// Command queuebench drives a synthetic publish/fetch workload against a
// single in-memory queue engine instance, exposing its residency and rate
// metrics over a small admin HTTP surface while the workload runs. It
// exists to exercise the whole stack end to end: the engine itself, the
// in-memory store reference implementation, the metrics collector, and
// the CLI/config/logging ambient packages.
package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"go.bryk.io/queue/cli"
	cviper "go.bryk.io/queue/cli/viper"
	xlog "go.bryk.io/queue/log"
	"go.bryk.io/queue/metrics"
	xhttp "go.bryk.io/queue/net/http"
	"go.bryk.io/queue/net/middleware/logging"
	"go.bryk.io/queue/net/middleware/recovery"
	"go.bryk.io/queue/queue"
	"go.bryk.io/queue/store/memory"
	"go.bryk.io/queue/ulid"
)

var params = []cli.Param{
	{Name: "ram-duration", Usage: "target seconds of messages to keep fully resident in RAM, 0 disables the target", FlagKey: "bench.ram_duration", ByDefault: 5},
	{Name: "publish-rate", Usage: "synthetic publishes per second", FlagKey: "bench.publish_rate", ByDefault: 200},
	{Name: "fetch-rate", Usage: "synthetic fetches per second", FlagKey: "bench.fetch_rate", ByDefault: 180},
	{Name: "persistent-ratio", Usage: "fraction (0-100) of published messages marked persistent", FlagKey: "bench.persistent_ratio", ByDefault: 50},
	{Name: "body-size", Usage: "synthetic message body size in bytes", FlagKey: "bench.body_size", ByDefault: 256},
	{Name: "run-for", Usage: "workload duration, e.g. 30s, 2m", FlagKey: "bench.run_for", ByDefault: "30s"},
	{Name: "admin-port", Usage: "TCP port for the /metrics and /status admin endpoints", FlagKey: "bench.admin_port", ByDefault: 8080},
	{Name: "log-backend", Usage: "logger backend: zero, logrus, zap or charm", FlagKey: "bench.log_backend", ByDefault: "zero"},
}

func main() {
	root := &cobra.Command{
		Use:   "queuebench",
		Short: "Synthetic load generator for the queue storage engine",
		RunE:  run,
	}
	if err := cli.SetupCommandParams(root, params); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	vp := viper.New()
	if err := cviper.BindFlags(root, params, vp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := cviper.ConfigHandler("queuebench", nil)
	if err := cfg.ReadFile(true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ramDuration, _ := cmd.Flags().GetInt("ram-duration")
	publishRate, _ := cmd.Flags().GetInt("publish-rate")
	fetchRate, _ := cmd.Flags().GetInt("fetch-rate")
	persistentRatio, _ := cmd.Flags().GetInt("persistent-ratio")
	bodySize, _ := cmd.Flags().GetInt("body-size")
	runForRaw, _ := cmd.Flags().GetString("run-for")
	adminPort, _ := cmd.Flags().GetInt("admin-port")
	logBackend, _ := cmd.Flags().GetString("log-backend")

	runFor, err := time.ParseDuration(runForRaw)
	if err != nil {
		return err
	}

	log := newLogger(logBackend)
	log.Info("starting queuebench run")

	transientStore := memory.NewMessageStore(true)
	if err := queue.StartBroker(transientStore); err != nil {
		return err
	}
	persistentStore := memory.NewMessageStore(true)
	index := memory.NewQueueIndex(memory.DefaultSegmentSize, memory.NewBacking())

	collector := metrics.NewQueueCollector("bench")
	op, err := metrics.NewOperator(nil, collector)
	if err != nil {
		return err
	}

	q, err := queue.Open("bench", index, persistentStore, transientStore,
		queue.WithDurable(true),
		queue.WithAssertions(true),
		queue.WithLogger(log),
		queue.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	if ramDuration > 0 {
		if err := q.SetRAMDurationTarget(time.Duration(ramDuration) * time.Second); err != nil {
			return err
		}
	}

	admin, err := newAdminServer(adminPort, op, q, log)
	if err != nil {
		return err
	}
	go func() {
		if err := admin.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server: %v", err)
		}
	}()
	defer func() { _ = admin.Stop(true) }()
	waitForAdminReady(adminPort, log)

	spin := cli.NewSpinner(cli.WithSpinnerColor("blue"))
	spin.Start()
	defer spin.Stop()

	runID := uuid.New().String()
	log.WithField("run_id", runID).Info("workload started")
	published, fetched := runWorkload(q, runFor, publishRate, fetchRate, persistentRatio, bodySize)
	log.WithFields(xlog.Fields{"run_id": runID, "published": published, "fetched": fetched}).Info("workload finished")

	return q.Terminate()
}

// runWorkload drives synthetic publishers and fetchers against q for the
// given duration, at the given target rates. Acks are issued immediately
// for every successful fetch; there is no redelivery simulation. Returns
// the number of messages successfully published and fetched.
func runWorkload(q *queue.Queue, runFor time.Duration, publishRate, fetchRate, persistentRatio, bodySize int) (published, fetched uint64) {
	deadline := time.Now().Add(runFor)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := rateTicker(publishRate)
		defer tick.Stop()
		body := make([]byte, bodySize)
		for time.Now().Before(deadline) {
			<-tick.C
			guid, err := ulid.New()
			if err != nil {
				continue
			}
			_, _ = rand.Read(body)
			msg := queue.Message{
				GUID:       guid,
				Body:       append([]byte(nil), body...),
				Persistent: rand.Intn(100) < persistentRatio,
			}
			if _, err := q.Publish(msg); err == nil {
				atomic.AddUint64(&published, 1)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := rateTicker(fetchRate)
		defer tick.Stop()
		for time.Now().Before(deadline) {
			<-tick.C
			d, err := q.Fetch(true)
			if err != nil || d == nil {
				continue
			}
			if err := q.Ack([]queue.AckTag{d.Tag}); err == nil {
				atomic.AddUint64(&fetched, 1)
			}
		}
	}()

	wg.Wait()
	return atomic.LoadUint64(&published), atomic.LoadUint64(&fetched)
}

// rateTicker returns a ticker firing at the given per-second rate. A
// non-positive rate ticks once a second as a floor, since time.NewTicker
// panics on a non-positive interval.
func rateTicker(perSecond int) *time.Ticker {
	if perSecond <= 0 {
		return time.NewTicker(time.Second)
	}
	return time.NewTicker(time.Second / time.Duration(perSecond))
}

// waitForAdminReady polls the admin server's /status endpoint with a
// short-timeout client until it answers or a handful of attempts are
// exhausted, so the workload doesn't start racing server startup.
func waitForAdminReady(port int, log xlog.Logger) {
	hc, err := xhttp.NewClient(xhttp.WithTimeout(200 * time.Millisecond))
	if err != nil {
		log.Warningf("admin readiness client: %v", err)
		return
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/status", port)
	for i := 0; i < 20; i++ {
		resp, err := hc.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	log.Warning("admin server did not become ready in time")
}

func newAdminServer(port int, op metrics.Operator, q *queue.Queue, log xlog.Logger) (*xhttp.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", op.MetricsHandler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"length":%d}`, q.Len())
	})

	return xhttp.NewServer(
		xhttp.WithPort(port),
		xhttp.WithHandler(mux),
		xhttp.WithMiddleware(
			recovery.Handler(),
			logging.Handler(log, nil),
		),
	)
}

func newLogger(backend string) xlog.Logger {
	switch backend {
	case "logrus":
		return xlog.WithLogrus(logrus.StandardLogger())
	case "zap":
		zl, err := zap.NewProduction()
		if err != nil {
			return xlog.WithZero(xlog.ZeroOptions{})
		}
		return xlog.WithZap(zl)
	case "charm":
		return xlog.WithCharm(xlog.CharmOptions{Prefix: "queuebench"})
	default:
		return xlog.WithZero(xlog.ZeroOptions{})
	}
}
