// Package walk implements deterministic directory traversal:
// byte-lexicographic ordering of full paths, glob-based exclude
// pruning, content-type allowlisting, and file/byte ceilings. Entries
// are always explicitly sorted rather than trusted in filesystem return
// order, so two runs over the same tree report in the same order.
package walk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EntryKind distinguishes what a Visit callback is looking at.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindExcludedDir
	KindExcludedFile
	KindAllowlistSkipped
	KindTruncated
)

// Entry is one unit yielded by Walk, in byte-lexicographic order.
type Entry struct {
	// RelPath is relative to the input root, using "/" separators.
	RelPath string
	AbsPath string
	Kind    EntryKind
	Size    int64
}

// Config drives exclude-prune and ceiling behavior. Allowlist-by-detected-type
// is not configured here: detection requires reading file bytes, which only
// the caller (via classify) does, so the allowlist decision is returned from
// Visit instead of driven by a glob Walk itself evaluates.
type Config struct {
	ExcludeGlobs []string
	MaxFiles     int64
	MaxBytes     int64
}

// VisitResult tells Walk whether to keep descending/counting after a
// file was handed to the caller.
type VisitResult struct {
	// Allowed is false when the caller's allowlist check rejected this
	// file by detected content type; Walk then emits KindAllowlistSkipped
	// instead of KindFile for it.
	Allowed bool
	// BytesRead is the file's size as counted against MaxBytes.
	BytesRead int64
}

// Visit is called for every regular file that survives exclude-pruning
// and is admitted by the file/byte ceilings, so the caller can classify
// it and report back whether it passes the allowlist.
type Visit func(e Entry) (VisitResult, error)

// Walk traverses root in deterministic order, calling visit for every
// surviving regular file, and invoking emit for every record-worthy
// event (files, exclusions, truncation). The full path list is
// enumerated up front, before visiting any file, so files written into
// root mid-run (because --out lies beneath --input) are never
// re-consumed.
func Walk(root string, cfg Config, visit Visit, emit func(Entry)) error {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk: scanning %s: %w", root, err)
	}

	sort.Strings(paths)

	var filesSeen, bytesSeen int64
	prunedDirs := make(map[string]bool)

	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("walk: relativizing %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		rel = norm.NFC.String(rel)

		if underPrunedDir(rel, prunedDirs) {
			continue
		}

		info, err := os.Lstat(p)
		if err != nil {
			return fmt.Errorf("walk: stat %s: %w", p, err)
		}

		if info.IsDir() {
			if matchesAny(cfg.ExcludeGlobs, rel) {
				prunedDirs[rel] = true
				emit(Entry{RelPath: rel, AbsPath: p, Kind: KindExcludedDir})
			}
			continue
		}

		if matchesAny(cfg.ExcludeGlobs, rel) {
			emit(Entry{RelPath: rel, AbsPath: p, Kind: KindExcludedFile, Size: info.Size()})
			continue
		}

		if cfg.MaxFiles > 0 && filesSeen+1 > cfg.MaxFiles {
			emit(Entry{RelPath: rel, AbsPath: p, Kind: KindTruncated})
			return nil
		}
		if cfg.MaxBytes > 0 && bytesSeen+info.Size() > cfg.MaxBytes {
			emit(Entry{RelPath: rel, AbsPath: p, Kind: KindTruncated})
			return nil
		}

		entry := Entry{RelPath: rel, AbsPath: p, Kind: KindFile, Size: info.Size()}
		res, err := visit(entry)
		if err != nil {
			return fmt.Errorf("walk: visiting %s: %w", rel, err)
		}
		filesSeen++
		bytesSeen += res.BytesRead

		if !res.Allowed {
			entry.Kind = KindAllowlistSkipped
		}
		emit(entry)
	}

	return nil
}

func underPrunedDir(rel string, prunedDirs map[string]bool) bool {
	for dir := range prunedDirs {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		// Also try matching just the base name, since globs like
		// "*.tmp" are commonly written without a path component.
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
