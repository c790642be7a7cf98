package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/factory"
)

type options struct {
	configPath   string
	clientCount  int
	serviceCount int
	saleCount    int
	searches     int
	warm         bool
	seed         int64
	seedProvided bool
}

type timing struct {
	op    string
	count int
	total time.Duration
	worst time.Duration
}

func (t *timing) observe(d time.Duration) {
	t.count++
	t.total += d
	if d > t.worst {
		t.worst = d
	}
}

func (t *timing) avg() time.Duration {
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

var (
	firstNames = []string{"Ana", "Bruno", "Carla", "Diego", "Elisa", "Fábio", "Gabriela", "Heitor", "Isabela", "João", "Larissa", "Márcio"}
	lastNames  = []string{"Souza", "Oliveira", "Conceição", "Pereira", "Araújo", "Lima", "Gonçalves", "Ribeiro", "Almeida", "Nascimento"}
	services   = []string{"Corte", "Coloração", "Escova", "Manicure", "Pedicure", "Hidratação", "Sobrancelha", "Maquiagem", "Depilação", "Massagem"}
	payments   = []string{"cash", "credit", "debit", "pix"}
)

func main() {
	log.SetFlags(0)

	opts := parseFlags()
	ctx := context.Background()

	cfg, err := duplex.LoadConfig(opts.configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", opts.configPath, err)
	}
	cfg.Metrics.Enabled = false

	svc, err := factory.NewServiceWithConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}
	defer svc.Close()

	if opts.seedProvided {
		log.Printf("[info] Using random seed %d", opts.seed)
	}
	r := rand.New(rand.NewSource(opts.seed))
	timings := map[string]*timing{}
	track := func(op string, fn func() error) {
		t, ok := timings[op]
		if !ok {
			t = &timing{op: op}
			timings[op] = t
		}
		start := time.Now()
		if err := fn(); err != nil {
			log.Fatalf("%s failed: %v", op, err)
		}
		t.observe(time.Since(start))
	}

	clients := mustEntity(svc, "clients")
	catalog := mustEntity(svc, "services")
	sales := mustEntity(svc, "sales")

	clientIDs := make([]string, 0, opts.clientCount)
	for i := 0; i < opts.clientCount; i++ {
		rec := buildClient(r, i)
		track("clients.create", func() error {
			created, err := clients.Create(ctx, rec)
			if err == nil {
				clientIDs = append(clientIDs, created.ID())
			}
			return err
		})
	}
	for i := 0; i < opts.serviceCount; i++ {
		rec := duplex.Record{
			"name":     fmt.Sprintf("%s %d", randomChoice(r, services), i),
			"price":    float64(20+r.Intn(280)) + 0.9,
			"duration": 15 * (1 + r.Intn(8)),
		}
		track("services.create", func() error {
			_, err := catalog.Create(ctx, rec)
			return err
		})
	}
	for i := 0; i < opts.saleCount && len(clientIDs) > 0; i++ {
		rec := duplex.Record{
			"client_id": clientIDs[r.Intn(len(clientIDs))],
			"total":     float64(r.Intn(50000)) / 100,
			"payment":   randomChoice(r, payments),
			"receipt":   uuid.NewString(),
		}
		track("sales.create", func() error {
			_, err := sales.Create(ctx, rec)
			return err
		})
	}
	log.Printf("[info] Seeded %d clients, %d services, %d sales", len(clientIDs), opts.serviceCount, opts.saleCount)

	if opts.warm {
		track("warm", func() error { return svc.Warm(ctx) })
	}

	// The first list after seeding reads whichever backend the refresh flag
	// points at; the second one always hits Cache.
	for _, e := range []duplex.Entity{clients, catalog, sales} {
		e := e
		track(e.Name()+".list.first", func() error { _, err := e.List(ctx); return err })
		track(e.Name()+".list.cached", func() error { _, err := e.List(ctx); return err })
	}

	if searcher, ok := clients.(duplex.Searcher); ok {
		for i := 0; i < opts.searches; i++ {
			term := string([]rune(randomChoice(r, firstNames))[:3])
			track("clients.search", func() error { _, err := searcher.Search(ctx, term, 20); return err })
		}
	}

	var snap *duplex.Snapshot
	track("backup", func() error {
		var err error
		snap, err = svc.Backup(ctx)
		return err
	})
	log.Printf("[info] Backup covered %d records in %d entities", snap.Metadata.TotalRecords, snap.Metadata.TotalEntities)

	printTimings(timings)
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", getenvDefault("DUPLEX_CONFIG", "duplex.yaml"), "path to the YAML config")
	flag.IntVar(&opts.clientCount, "clients", getenvDefaultInt("BENCH_CLIENTS", 1000), "number of client records to create")
	flag.IntVar(&opts.serviceCount, "services", getenvDefaultInt("BENCH_SERVICES", 50), "number of service records to create")
	flag.IntVar(&opts.saleCount, "sales", getenvDefaultInt("BENCH_SALES", 2000), "number of sale records to create")
	flag.IntVar(&opts.searches, "searches", 100, "number of prefix searches to run")
	flag.BoolVar(&opts.warm, "warm", false, "refresh Cache from Primary before reading")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")

	flag.Parse()

	if *seed == 0 {
		opts.seed = time.Now().UnixNano()
	} else {
		opts.seed = *seed
		opts.seedProvided = true
	}

	if opts.clientCount < 0 || opts.serviceCount < 0 || opts.saleCount < 0 || opts.searches < 0 {
		log.Fatal("record counts must be non-negative")
	}

	return opts
}

func mustEntity(svc duplex.Service, name string) duplex.Entity {
	e, err := svc.Entity(name)
	if err != nil {
		log.Fatalf("entity %s: %v", name, err)
	}
	return e
}

func buildClient(r *rand.Rand, i int) duplex.Record {
	first := randomChoice(r, firstNames)
	last := randomChoice(r, lastNames)
	return duplex.Record{
		"name":  first + " " + last,
		"phone": fmt.Sprintf("+55 11 9%04d-%04d", r.Intn(10000), i%10000),
		"email": fmt.Sprintf("%s.%s.%d@example.com", first, last, i),
	}
}

func printTimings(timings map[string]*timing) {
	ops := make([]string, 0, len(timings))
	for op := range timings {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	fmt.Printf("%-24s %8s %12s %12s\n", "operation", "count", "avg", "worst")
	for _, op := range ops {
		t := timings[op]
		fmt.Printf("%-24s %8d %12s %12s\n", op, t.count, t.avg().Round(time.Microsecond), t.worst.Round(time.Microsecond))
	}
}

func randomChoice(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
