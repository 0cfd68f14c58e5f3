// Command mkv-retime rewrites every Cluster timestamp in an offline MKV
// file produced by kvs-producer by a fixed delta, leaving every other
// byte — including SimpleBlock relative timestamps — untouched.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alxayo/kvs-producer/internal/mkv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mkv-retime:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("mkv-retime", flag.ContinueOnError)
	in := fs.String("i", "", "input MKV file")
	out := fs.String("o", "", "output MKV file")
	shift := fs.String("t", "", "timestamp shift in milliseconds, e.g. 1500 or -250")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" || *shift == "" {
		fs.Usage()
		return fmt.Errorf("-i, -o and -t are required")
	}

	deltaMs, err := strconv.ParseInt(strings.TrimPrefix(*shift, "+"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid -t value %q: %w", *shift, err)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	rewritten, n, err := retimeClusters(data, deltaMs)
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, rewritten, 0o644); err != nil {
		return err
	}
	fmt.Printf("rewrote %d cluster timestamp(s) by %dms\n", n, deltaMs)
	return nil
}

// clusterID and timestampID are the EBML IDs (marker bit included) this
// producer's writer always emits as a Cluster's first child.
const (
	clusterID   = 0x1F43B675
	timestampID = 0xE7
)

// retimeClusters scans data for Cluster elements written in this
// producer's own layout (Cluster, unknown size, Timestamp as the first
// and only fixed-position child) and adds deltaMs to each absolute
// timestamp in place. Returns the rewritten bytes and the cluster count.
func retimeClusters(data []byte, deltaMs int64) ([]byte, int, error) {
	out := append([]byte(nil), data...)
	count := 0

	for i := 0; i+mkv.ClusterHeaderLen <= len(out); i++ {
		id, idLen, err := mkv.ReadElementID(out[i:])
		if err != nil || id != clusterID || idLen != 4 {
			continue
		}
		sizePos := i + idLen
		size, sizeLen, err := mkv.ReadElementSize(out[sizePos:])
		if err != nil || size != mkv.UnknownSize {
			continue
		}
		childPos := sizePos + sizeLen
		childID, childIDLen, err := mkv.ReadElementID(out[childPos:])
		if err != nil || childID != timestampID {
			continue
		}
		childSizePos := childPos + childIDLen
		childSize, childSizeLen, err := mkv.ReadElementSize(out[childSizePos:])
		if err != nil || childSize != 8 {
			continue
		}
		valuePos := childSizePos + childSizeLen

		original := binary.BigEndian.Uint64(out[valuePos : valuePos+8])
		shifted := int64(original) + deltaMs
		if shifted < 0 {
			shifted = 0
		}
		binary.BigEndian.PutUint64(out[valuePos:valuePos+8], uint64(shifted))
		count++
		i = valuePos + 7 // resume scanning just past this cluster's header
	}

	if count == 0 {
		return nil, 0, fmt.Errorf("no cluster timestamps found")
	}
	return out, count, nil
}
