// Command cache-proxy exposes the tiered cache over HTTP: a small
// sidecar for services that cannot link the library directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fehlmann/tiercache/pkg/cache"
	"github.com/fehlmann/tiercache/pkg/logging"
)

type config struct {
	RedisURL   string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	Port       string        `env:"PORT" envDefault:"8080"`
	KeyPrefix  string        `env:"KEY_PREFIX" envDefault:"tiercache:"`
	DefaultTTL time.Duration `env:"DEFAULT_TTL" envDefault:"5m"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool          `env:"LOG_PRETTY" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisURL).Msg("failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.RedisURL).Msg("connected to Redis")

	cacheCfg := cache.DefaultConfig()
	cacheCfg.L2.KeyPrefix = cfg.KeyPrefix
	cacheCfg.L2.DefaultTTL = cfg.DefaultTTL

	c, err := cache.New(rdb, cacheCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create cache")
	}

	mux := newMux(c, rdb)

	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Str("prefix", cfg.KeyPrefix).Msg("starting cache proxy")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// newMux wires all proxy routes. Split out of main so handler tests can
// exercise the full routing table.
func newMux(c *cache.Cache, rdb *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(rdb))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /cache/{key...}", getHandler(c))
	mux.HandleFunc("PUT /cache/{key...}", putHandler(c))
	mux.HandleFunc("DELETE /cache/{key...}", deleteHandler(c))
	mux.HandleFunc("POST /invalidate/tag/{tag}", invalidateTagHandler(c))
	mux.HandleFunc("GET /stats", statsHandler(c))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func getHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		found, err := c.Get(r.Context(), r.PathValue("key"), &raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}
}

func putHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			http.Error(w, "body must be valid JSON", http.StatusBadRequest)
			return
		}

		opts := make([]cache.Option, 0, 2)
		if raw := r.URL.Query().Get("ttl"); raw != "" {
			ttl, err := time.ParseDuration(raw)
			if err != nil {
				http.Error(w, "invalid ttl", http.StatusBadRequest)
				return
			}
			opts = append(opts, cache.WithTTL(ttl))
		}
		if raw := r.URL.Query().Get("tags"); raw != "" {
			opts = append(opts, cache.WithTags(strings.Split(raw, ",")...))
		}

		if err := c.Set(r.Context(), r.PathValue("key"), body, opts...); err != nil {
			status := http.StatusBadGateway
			if cache.IsKeyValidation(err) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := c.Delete(r.Context(), r.PathValue("key"))
		if err != nil {
			status := http.StatusBadGateway
			if cache.IsKeyValidation(err) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		if !removed {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func invalidateTagHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := c.InvalidateTag(r.Context(), r.PathValue("tag"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"invalidated": count})
	}
}

func statsHandler(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Stats())
	}
}
