package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/svdag"
	svdagprom "github.com/hupe1980/svdag/metrics/prometheus"
	"github.com/hupe1980/svdag/model"
)

var (
	serveRegion   string
	serveAddr     string
	serveViewer   string
	serveWarm     float64
	servePageSize uint32
	servePoll     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve [name]",
	Short: "Publish a snapshot into a shared region and keep it warm",
	Long: `Serve loads a snapshot, publishes its root into a memory-mapped region
file that renderers open read-only, and pre-admits the nodes nearest the
viewer. With --poll and a commit store, newer commits are published as
they appear. Metrics are exposed on --addr under /metrics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		viewer, err := parseVec3(serveViewer)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		collector := svdagprom.NewCollector("svdag")
		if err := collector.Register(reg); err != nil {
			return err
		}

		scene, _, err := openScene(cmd,
			svdag.WithRegionPath(serveRegion),
			svdag.WithPageSize(servePageSize),
			svdag.WithViewer(viewer),
			svdag.WithMetricsCollector(collector),
		)
		if err != nil {
			return err
		}
		defer scene.Close()

		if err := collector.WatchScene(scene); err != nil {
			return err
		}

		var name string
		if len(args) == 1 {
			name = args[0]
		}
		srv := &server{scene: scene}
		if err := srv.publish(ctx, name); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- hs.ListenAndServe() }()
		fmt.Printf("serving %s on region %s, metrics at %s/metrics\n", srv.current, scene.RegionPath(), serveAddr)

		var tick <-chan time.Time
		if servePoll > 0 && name == "" {
			t := time.NewTicker(servePoll)
			defer t.Stop()
			tick = t.C
		}

		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return hs.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-tick:
				if err := srv.publish(ctx, ""); err != nil {
					fmt.Printf("reload: %v\n", err)
				}
			}
		}
	},
}

// server tracks the published DAG of a serving scene.
type server struct {
	scene   *svdag.Scene
	current svdag.DAG
	version uint64
	loaded  bool
}

// publish loads name, or the current commit when name is empty, and swaps
// it in as the published root. An unchanged commit is a no-op.
func (s *server) publish(ctx context.Context, name string) error {
	dag, info, err := s.scene.Load(ctx, name)
	if err != nil {
		return err
	}
	if s.loaded && name == "" && info.Version == s.version {
		return s.scene.Release(dag)
	}
	if err := s.scene.Publish(ctx, dag); err != nil {
		_ = s.scene.Release(dag)
		return err
	}
	if s.loaded {
		if err := s.scene.Release(s.current); err != nil {
			return err
		}
	}
	s.current, s.version, s.loaded = dag, info.Version, true

	if serveWarm > 0 {
		n, err := s.scene.Warm(ctx, dag, serveWarm)
		if err != nil {
			return err
		}
		fmt.Printf("published %s version %d, warmed %d nodes\n", info.Name, info.Version, n)
	}
	return nil
}

// parseVec3 parses "x,y,z".
func parseVec3(s string) (model.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return model.Vec3{}, fmt.Errorf("viewer %q: want x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Vec3{}, fmt.Errorf("viewer %q: %w", s, err)
		}
		v[i] = f
	}
	return model.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveRegion, "region", "svdag.region", "Path of the shared region file")
	f.StringVar(&serveAddr, "addr", ":9464", "Metrics listen address")
	f.StringVar(&serveViewer, "viewer", "0,0,0", "Viewer position used to order warming")
	f.Float64Var(&serveWarm, "warm", 0.5, "Fraction of the budget to pre-admit (0 disables)")
	f.Uint32Var(&servePageSize, "page-size", 0, "Region page size in bytes (0 picks one from the budget)")
	f.DurationVar(&servePoll, "poll", 0, "Poll the commit store for new versions at this interval")
	rootCmd.AddCommand(serveCmd)
}
