// Package csv turns a partition's bytes into delimited records.
//
// A record is one physical line. Reader splits the input on '\n' first and
// only then splits each line into fields, so a quote can never carry a field
// across a line boundary: a line with broken quoting is dropped (or, with
// lazy quotes, kept as best it parses) and the next line starts clean.
// Variable field counts, an optional header row and a UTF-8 BOM on the
// first line are handled. Lines that fail to parse are soft-dropped and
// counted; only I/O failures surface as errors.
package csv

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"tally/internal/config"
)

const (
	utf8BOM = "\uFEFF"

	// readBufSize matches the line buffer the loaders use; longer lines are
	// accumulated across ReadSlice calls.
	readBufSize = 64 * 1024
)

// Options controls record splitting.
type Options struct {
	Comma      rune
	HasHeader  bool
	LazyQuotes bool
	TrimSpace  bool
}

// OptionsFrom reads parser.options:
//   - comma (string; first rune; default ',')
//   - has_header (bool; default false)
//   - lazy_quotes (bool; default true)
//   - trim_space (bool; default false)
func OptionsFrom(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		HasHeader:  o.Bool("has_header", false),
		LazyQuotes: o.Bool("lazy_quotes", true),
		TrimSpace:  o.Bool("trim_space", false),
	}
}

// Reader yields one record per call to Next.
type Reader struct {
	br   *bufio.Reader
	opts Options

	long []byte   // accumulates lines longer than the buffer
	rec  []string // reused by the unquoted fast path

	// quoted parses one line at a time: line is reset into src and qbuf
	// before each Read, so it never sees past the current line.
	src    *strings.Reader
	qbuf   *bufio.Reader
	quoted *csv.Reader

	started   bool
	records   int64
	malformed int64
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts Options) *Reader {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	src := strings.NewReader("")
	qbuf := bufio.NewReader(src)
	cr := csv.NewReader(qbuf)
	cr.Comma = opts.Comma
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{
		br:     bufio.NewReaderSize(r, readBufSize),
		opts:   opts,
		src:    src,
		qbuf:   qbuf,
		quoted: cr,
	}
}

// Next returns the next record, or io.EOF when the input is exhausted.
//
// The returned slice and its strings are only valid until the next call;
// callers that retain a field must copy it. Blank lines are ignored. Lines
// with CSV syntax errors are skipped and counted in Malformed.
func (r *Reader) Next() ([]string, error) {
	for {
		line, err := r.readLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		if !r.started {
			line = bytes.TrimPrefix(line, []byte(utf8BOM))
		}
		if len(line) == 0 {
			continue
		}
		if !r.started {
			r.started = true
			if r.opts.HasHeader {
				continue
			}
		}

		rec, ok := r.split(string(line))
		if !ok {
			r.malformed++
			continue
		}
		if r.opts.TrimSpace {
			for i, v := range rec {
				rec[i] = strings.TrimSpace(v)
			}
		}
		r.records++
		return rec, nil
	}
}

// readLine returns the next physical line without its "\n" or "\r\n". A
// final line without a terminator is returned before io.EOF. The slice is
// only valid until the next call.
func (r *Reader) readLine() ([]byte, error) {
	r.long = r.long[:0]
	for {
		chunk, err := r.br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			r.long = append(r.long, chunk...)
			continue
		}
		line := chunk
		if len(r.long) > 0 {
			r.long = append(r.long, chunk...)
			line = r.long
		}
		if err == io.EOF && len(line) > 0 {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSuffix(line, []byte{'\n'})
		line = bytes.TrimSuffix(line, []byte{'\r'})
		return line, nil
	}
}

// split breaks one line into fields. Lines without a quote are split on the
// delimiter directly; quoted lines go through encoding/csv, confined to the
// line. ok is false when the line does not parse.
func (r *Reader) split(line string) ([]string, bool) {
	if strings.IndexByte(line, '"') < 0 {
		r.rec = r.rec[:0]
		width := utf8.RuneLen(r.opts.Comma)
		for {
			i := strings.IndexRune(line, r.opts.Comma)
			if i < 0 {
				r.rec = append(r.rec, line)
				return r.rec, true
			}
			r.rec = append(r.rec, line[:i])
			line = line[i+width:]
		}
	}

	r.src.Reset(line)
	r.qbuf.Reset(r.src)
	rec, err := r.quoted.Read()
	if err != nil {
		return nil, false
	}
	return rec, true
}

// Records is the number of records returned so far.
func (r *Reader) Records() int64 { return r.records }

// Malformed is the number of lines dropped because they failed to parse.
func (r *Reader) Malformed() int64 { return r.malformed }
