package batch

import (
	"sync"
)

// Result holds the outcome of converting one input.
type Result struct {
	Name    string
	Output  string
	Skipped int
	Notes   []string
	Success bool
	Error   string
}

// Func converts one input. Skipped and Notes are reported even on success.
type Func func(name string) Result

// Run processes items using a pool of workers. Results keep the order of items.
func Run(workers int, items []string, fn Func) []Result {
	results := make([]Result, len(items))
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	itemChan := make(chan int, workers*2)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range itemChan {
				results[idx] = process(fn, items[idx])
			}
		}()
	}

	for i := range items {
		itemChan <- i
	}
	close(itemChan)

	wg.Wait()
	return results
}

func process(fn Func, name string) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			r = Result{Name: name, Error: "panic: " + toString(p)}
		}
	}()
	r = fn(name)
	if r.Name == "" {
		r.Name = name
	}
	return r
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	}
	return "unknown"
}

// Failed returns the results that did not succeed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
