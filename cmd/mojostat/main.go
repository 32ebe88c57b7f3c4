package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/pierrec/lz4"

	"github.com/profiletools/mojo/internal/mojo"
	"github.com/profiletools/mojo/internal/sample"
	"github.com/profiletools/mojo/internal/stats"
)

const (
	workersCount int = 64
)

type aggregator struct {
	mu       sync.Mutex
	profiles map[stats.Type]*stats.Stats
}

func (a *aggregator) add(profiles map[stats.Type]*stats.Stats) {
	for t, st := range profiles {
		flat := st.Flatten()

		a.mu.Lock()
		total, exists := a.profiles[t]
		if !exists {
			total = stats.New(t)
			a.profiles[t] = total
		}
		a.mu.Unlock()

		for _, smp := range flat {
			total.Update(smp)
		}
	}
}

func main() {
	asJSON := flag.Bool("json", false, "emit flattened samples as JSON instead of collapsed stacks")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Println("./mojostat [-json] <captures directory>") // nolint
		return
	}

	root := args[0]
	f, err := os.Open(root)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	pathChannel := make(chan string, workersCount)
	errChannel := make(chan error)

	go func() {
		for err := range errChannel {
			log.Println(err)
		}
	}()

	agg := aggregator{profiles: make(map[stats.Type]*stats.Stats)}

	var wg sync.WaitGroup

	for w := 0; w < workersCount; w++ {
		wg.Add(1)
		go aggregateCapture(pathChannel, errChannel, &agg, &wg)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		pathChannel <- path
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	close(pathChannel)
	wg.Wait()
	close(errChannel)

	if err := report(os.Stdout, agg.profiles, *asJSON); err != nil {
		log.Fatal(err)
	}
}

func aggregateCapture(pathChannel chan string, errChan chan error, agg *aggregator, wg *sync.WaitGroup) {
	defer wg.Done()

	for path := range pathChannel {
		f, err := os.Open(path)
		if err != nil {
			errChan <- err
			continue
		}

		var r io.Reader = f
		if filepath.Ext(path) == ".lz4" {
			r = lz4.NewReader(f)
		}
		profiles, err := stats.Load(mojo.NewDecoder(r))
		f.Close()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				errChan <- err
			}
			continue
		}

		agg.add(profiles)
	}
}

func report(w io.Writer, profiles map[stats.Type]*stats.Stats, asJSON bool) error {
	types := make([]stats.Type, 0, len(profiles))
	for t := range profiles {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	if asJSON {
		flat := make(map[stats.Type][]sample.Sample, len(profiles))
		for _, t := range types {
			flat[t] = profiles[t].Flatten()
		}
		return gojson.NewEncoder(w).Encode(flat)
	}

	for _, t := range types {
		if err := profiles[t].Dump(w); err != nil {
			return err
		}
	}
	return nil
}
