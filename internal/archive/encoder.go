package archive

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodeNDJSONGZ serializes a batch of records as newline-delimited JSON
// and gzip-compresses the result. Records may be any JSON-encodable value;
// one record per line.
func EncodeNDJSONGZ[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer

	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("EncodeNDJSONGZ: %w", err)
	}

	enc := json.NewEncoder(gz)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("EncodeNDJSONGZ: %w", err)
		}
	}

	// Close completes the gzip stream; the footer is written here.
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("EncodeNDJSONGZ: %w", err)
	}

	return buf.Bytes(), nil
}

// BatchKey builds an object key for an archived batch, partitioned by day
// so downstream tooling can prune or replay by date.
//
//	<prefix>/<source>/2006/01/02/<source>-<unixnano>.ndjson.gz
func BatchKey(prefix, source string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s/%s-%d.ndjson.gz",
		prefix, source, at.Format("2006/01/02"), source, at.UnixNano())
}
