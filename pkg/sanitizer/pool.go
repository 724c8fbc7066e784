package sanitizer

import (
	"strconv"
	"sync"

	"github.com/cognusion/go-racket"

	"github.com/mlawlis/filesanitize/pkg/model"
)

// dispatchEntry is one directory-traversal unit whose final record is
// either already known (exclusions, truncation, allowlist skips) or
// still pending the expensive classify+sanitize+write step.
type dispatchEntry struct {
	record  *model.Record
	absPath string
	relPath string
}

// runPendingDispatch fills in entries[i].record for every entry with a
// nil record, via processOne. With opts.Workers <= 1 this runs
// sequentially. With Workers > 1 it fans out over a bounded
// github.com/cognusion/go-racket pool; regardless of worker count,
// results are written back by original index and only emitted to the
// Report Writer afterward, in order, so ordering never depends on
// scheduling.
func runPendingDispatch(opts Options, entries []dispatchEntry) {
	if opts.Workers <= 1 {
		for i := range entries {
			if entries[i].record == nil {
				if opts.cancelled() {
					return
				}
				rec := processOne(opts, entries[i].absPath, entries[i].relPath)
				entries[i].record = &rec
			}
		}
		return
	}

	workChan := make(chan racket.Work)
	var mu sync.Mutex

	workerFunc := func(id any, w racket.Work, progressChan chan<- racket.Progress) {
		idxStr := w.GetString("index")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return
		}
		rec := processOne(opts, w.GetString("absPath"), w.GetString("relPath"))
		mu.Lock()
		entries[idx].record = &rec
		mu.Unlock()
		progressChan <- racket.PUpdate(1)
	}

	job := racket.NewJob(workerFunc)
	progressChan, doneFunc := job.Supervisor(opts.Workers, workChan)
	go func() {
		for range progressChan {
			// Progress is surfaced via --progress (pb/v3) at the CLI
			// layer, not here; this drains the channel so workers never
			// block on a send.
		}
	}()

	for i := range entries {
		if entries[i].record != nil {
			continue
		}
		if opts.cancelled() {
			break
		}
		workChan <- racket.NewWork(map[string]any{
			"index":   strconv.Itoa(i),
			"absPath": entries[i].absPath,
			"relPath": entries[i].relPath,
		})
	}
	doneFunc()
	<-job.IsDone()
	close(progressChan)
}
