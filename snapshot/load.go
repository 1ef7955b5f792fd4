package snapshot

import (
	"bytes"
	"io"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/gzip"
)

// LoadData uncompresses stored snapshot contents into the raw payload
func LoadData(data []byte) ([]byte, error) {
	g, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(g)
	if err != nil {
		return nil, err
	}
	if err := g.Close(); err != nil {
		return nil, err
	}
	return payload, nil
}

// DumpData returns the compressed payload for storage
func DumpData(payload []byte) ([]byte, DumpDataStats, error) {
	var stat DumpDataStats
	t0 := time.Now()

	out := bytes.NewBuffer(make([]byte, 0, len(payload)/2+512))
	gw, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		return nil, stat, err
	}
	n, err := gw.Write(payload)
	if err != nil {
		return nil, stat, err
	}
	stat.PayloadSize = datasize.ByteSize(n)

	if err = gw.Close(); err != nil {
		return nil, stat, err
	}
	stat.TCompressed = time.Since(t0)

	compressedData := out.Bytes()
	stat.CompressedSize = datasize.ByteSize(len(compressedData))
	return compressedData, stat, nil
}

type DumpDataStats struct {
	TCompressed    time.Duration     // time it took to compress
	PayloadSize    datasize.ByteSize // uncompressed payload size
	CompressedSize datasize.ByteSize // compressed size
}
