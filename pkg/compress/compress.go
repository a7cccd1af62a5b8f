// Package compress decides whether cache payloads are worth compressing
// and performs compression with a pluggable algorithm.
//
// Compression is strictly best-effort: every failure path degrades to the
// uncompressed payload so that cache correctness never depends on
// compression succeeding.
package compress

import (
	"bytes"
	"math"
	"time"
)

// Algorithm identifies a compression codec.
type Algorithm string

const (
	// AlgorithmGzip is the default algorithm.
	AlgorithmGzip Algorithm = "gzip"

	// AlgorithmDeflate uses raw DEFLATE.
	AlgorithmDeflate Algorithm = "deflate"

	// AlgorithmBrotli uses Brotli.
	AlgorithmBrotli Algorithm = "brotli"
)

const (
	// DefaultThreshold is the minimum payload size considered for compression.
	DefaultThreshold = 1024

	// DefaultMinRatio is the maximum compressed/original ratio worth keeping.
	// A compressed result larger than 90% of the original is discarded.
	DefaultMinRatio = 0.9

	// entropyLimit is the Shannon entropy (bits per byte) above which a
	// payload is considered already compressed.
	entropyLimit = 7.5
)

// Options configures a Compressor.
type Options struct {
	// Algorithm selects the codec (default: gzip).
	Algorithm Algorithm

	// Threshold is the minimum payload size in bytes (default: 1024).
	Threshold int

	// MinRatio is the maximum compressed/original ratio worth keeping
	// (default: 0.9).
	MinRatio float64
}

// Metrics reports the outcome of a single compression.
type Metrics struct {
	OriginalSize   int
	CompressedSize int
	Ratio          float64
	Duration       time.Duration
	Algorithm      Algorithm
}

// Result is the outcome of Compress.
type Result struct {
	// Data is the payload to store. Equal to the input when Compressed
	// is false.
	Data []byte

	// Compressed reports whether Data is compressed.
	Compressed bool

	// Metrics describes the compression attempt. Zero value when
	// compression was skipped.
	Metrics Metrics
}

// Compressor applies threshold and ratio rules around a codec.
type Compressor struct {
	opts  Options
	codec Codec
}

// New creates a Compressor. Unknown algorithms fall back to gzip.
func New(opts Options) *Compressor {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmGzip
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MinRatio <= 0 || opts.MinRatio > 1 {
		opts.MinRatio = DefaultMinRatio
	}
	return &Compressor{
		opts:  opts,
		codec: codecFor(opts.Algorithm),
	}
}

// Algorithm returns the configured algorithm.
func (c *Compressor) Algorithm() Algorithm {
	return c.opts.Algorithm
}

// Compress compresses data when it is worth it.
// Payloads below the threshold, payloads that look already compressed, and
// payloads whose compressed form is not at least 10% smaller are returned
// unchanged with Compressed set to false. Codec errors are swallowed the
// same way.
func (c *Compressor) Compress(data []byte) Result {
	if !c.ShouldCompress(data) {
		compressionsTotal.WithLabelValues(string(c.opts.Algorithm), "skipped").Inc()
		return Result{Data: data, Compressed: false}
	}

	start := time.Now()
	compressed, err := c.codec.Compress(data)
	elapsed := time.Since(start)
	if err != nil {
		compressionsTotal.WithLabelValues(string(c.opts.Algorithm), "error").Inc()
		return Result{Data: data, Compressed: false}
	}

	ratio := float64(len(compressed)) / float64(len(data))
	metrics := Metrics{
		OriginalSize:   len(data),
		CompressedSize: len(compressed),
		Ratio:          ratio,
		Duration:       elapsed,
		Algorithm:      c.opts.Algorithm,
	}

	// Only keep the compressed form when it is meaningfully smaller.
	if ratio > c.opts.MinRatio {
		compressionsTotal.WithLabelValues(string(c.opts.Algorithm), "not_worth_it").Inc()
		return Result{Data: data, Compressed: false, Metrics: metrics}
	}

	compressionsTotal.WithLabelValues(string(c.opts.Algorithm), "compressed").Inc()
	bytesSavedTotal.Add(float64(len(data) - len(compressed)))

	return Result{Data: compressed, Compressed: true, Metrics: metrics}
}

// Decompress is the inverse of Compress. An empty algorithm uses the
// compressor's configured one. On failure (malformed data, wrong algorithm)
// the input is returned unchanged, since callers cannot always know whether
// a stored value was actually compressed.
func (c *Compressor) Decompress(data []byte, algorithm Algorithm) []byte {
	if algorithm == "" {
		algorithm = c.opts.Algorithm
	}
	out, err := codecFor(algorithm).Decompress(data)
	if err != nil {
		decompressionErrorsTotal.WithLabelValues(string(algorithm)).Inc()
		return data
	}
	return out
}

// ShouldCompress reports whether data is likely to benefit from compression.
// It combines the size threshold, known-incompressible signatures, and a
// Shannon entropy estimate.
func (c *Compressor) ShouldCompress(data []byte) bool {
	if len(data) < c.opts.Threshold {
		return false
	}
	if looksCompressed(data) {
		return false
	}
	if entropy(data) > entropyLimit {
		return false
	}
	return true
}

// incompressible magic bytes: common archive, image, and media formats.
var incompressibleMagic = [][]byte{
	{0x1f, 0x8b},             // gzip
	{0x50, 0x4b, 0x03, 0x04}, // zip
	{0x28, 0xb5, 0x2f, 0xfd}, // zstd
	{0x89, 0x50, 0x4e, 0x47}, // png
	{0xff, 0xd8, 0xff},       // jpeg
	{0x47, 0x49, 0x46, 0x38}, // gif
	{0x52, 0x49, 0x46, 0x46}, // riff (webp, wav, avi)
	{0x25, 0x50, 0x44, 0x46}, // pdf
}

var incompressiblePrefixes = [][]byte{
	[]byte("data:image/"),
	[]byte("data:video/"),
	[]byte("data:audio/"),
}

// ftyp box at offset 4 marks mp4 family containers.
var mp4Ftyp = []byte("ftyp")

func looksCompressed(data []byte) bool {
	for _, magic := range incompressibleMagic {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	for _, prefix := range incompressiblePrefixes {
		if bytes.HasPrefix(data, prefix) {
			return true
		}
	}
	if len(data) >= 8 && bytes.Equal(data[4:8], mp4Ftyp) {
		return true
	}
	return false
}

// entropy computes the Shannon entropy of data in bits per byte.
func entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	var h float64
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		h -= p * math.Log2(p)
	}
	return h
}
