package main

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/alxayo/kvs-producer/internal/bufpool"
	"github.com/alxayo/kvs-producer/internal/stream"
)

// loadedFrame is one frame read off disk, timestamped relative to the
// loader's start time.
type loadedFrame struct {
	data        []byte
	track       stream.TrackType
	timestampMs uint64
}

// frameFilePattern matches the numbered ".h264"/".aac" files this loader
// expects in -frame-dir, e.g. "000123.h264".
var frameFilePattern = regexp.MustCompile(`^(\d+)\.(h264|aac)$`)

// fileFrameLoader walks a directory of numbered .h264/.aac files in
// index order, interleaving video and audio by their file index.
type fileFrameLoader struct {
	dir       string
	paths     []string
	pos       int
	startedAt time.Time
}

func newFileFrameLoader(dir string) (*fileFrameLoader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		index int
		name  string
	}
	var matched []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		matched = append(matched, indexed{index: n, name: e.Name()})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].index < matched[j].index })

	paths := make([]string, 0, len(matched))
	for _, m := range matched {
		paths = append(paths, filepath.Join(dir, m.name))
	}
	return &fileFrameLoader{dir: dir, paths: paths, startedAt: time.Now()}, nil
}

// annexBHeadroom is spare capacity appended beyond each file's on-disk
// length so an in-place Annex-B -> AVCC rewrite has room for the extra
// length-prefix bytes, per nalu.ConvertAnnexBToAVCCInPlace's contract.
const annexBHeadroom = 64

// next returns the next frame in index order, or ok=false once every
// file has been consumed.
func (l *fileFrameLoader) next() (loadedFrame, bool, error) {
	if l.pos >= len(l.paths) {
		return loadedFrame{}, false, nil
	}
	path := l.paths[l.pos]
	l.pos++

	raw, err := os.ReadFile(path)
	if err != nil {
		return loadedFrame{}, false, err
	}
	// Pulled from the shared pool (not allocated fresh) so the coordinator's
	// OnTerminate hook can hand the backing array back once the frame is
	// sent or evicted, per internal/bufpool's size-class reuse contract.
	pooled := bufpool.Get(len(raw) + annexBHeadroom)
	copy(pooled, raw)
	data := pooled[:len(raw)]

	track := stream.TrackVideo
	if filepath.Ext(path) == ".aac" {
		track = stream.TrackAudio
	}
	ts := uint64(time.Since(l.startedAt).Milliseconds())
	return loadedFrame{data: data, track: track, timestampMs: ts}, true, nil
}
