package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/aevon-lab/insight/internal/core/model"
)

// maxInflated bounds a decompressed payload.
const maxInflated = 1 << 20

// Compress encodes a metric as a URL-safe string: zlib-deflated JSON in
// unpadded base64url.
func Compress(m model.Metric) (string, error) {
	data, err := Marshal(m)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", &model.SerializationError{Message: "failed to compress metric", Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return "", &model.SerializationError{Message: "failed to compress metric", Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &model.SerializationError{Message: "failed to compress metric", Err: err}
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Inflate reverses the transport transform of Compress, returning the JSON
// payload byte for byte.
func Inflate(s string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &model.SerializationError{Message: "compressed metric is not base64url", Err: err}
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &model.SerializationError{Message: "compressed metric is not zlib data", Err: err}
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return nil, &model.SerializationError{Message: "failed to inflate metric", Err: err}
	}
	if len(data) > maxInflated {
		return nil, &model.SerializationError{Message: "compressed metric is too large", Err: errors.New("payload exceeds 1 MiB")}
	}
	return data, nil
}

// Decompress decodes a Compress string against the snapshot.
func Decompress(s string, snapshot *model.DiscoveredEventDataSource) (model.Metric, error) {
	data, err := Inflate(s)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data, snapshot)
}
